package types

import "testing"

func TestTradeType_Opposite(t *testing.T) {
	if TradeTypeBuy.Opposite() != TradeTypeSell {
		t.Error("expected opposite of BUY to be SELL")
	}
	if TradeTypeSell.Opposite() != TradeTypeBuy {
		t.Error("expected opposite of SELL to be BUY")
	}
}

func TestParseTradeType(t *testing.T) {
	tests := []struct {
		input string
		want  TradeType
		ok    bool
	}{
		{"BUY", TradeTypeBuy, true},
		{"buy", TradeTypeBuy, true},
		{"SELL", TradeTypeSell, true},
		{"sell", TradeTypeSell, true},
		{"HOLD", TradeTypeBuy, false},
		{"", TradeTypeBuy, false},
	}

	for _, tt := range tests {
		got, ok := ParseTradeType(tt.input)
		if ok != tt.ok {
			t.Errorf("ParseTradeType(%q) ok = %v, want %v", tt.input, ok, tt.ok)
		}
		if ok && got != tt.want {
			t.Errorf("ParseTradeType(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	open := []OrderStatus{OrderStatusSubmitted, OrderStatusOpen, OrderStatusPartialFill}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}

func TestOrderStatus_RoundTrip(t *testing.T) {
	statuses := []OrderStatus{
		OrderStatusSubmitted,
		OrderStatusOpen,
		OrderStatusPartialFill,
		OrderStatusFilled,
		OrderStatusCancelled,
		OrderStatusFailed,
	}
	for _, s := range statuses {
		if got := ParseOrderStatus(s.String()); got != s {
			t.Errorf("ParseOrderStatus(%q) = %v, want %v", s.String(), got, s)
		}
	}
}

func TestRunStatus_RoundTrip(t *testing.T) {
	statuses := []RunStatus{
		RunStatusNotStarted,
		RunStatusRunning,
		RunStatusShuttingDown,
		RunStatusTerminated,
	}
	for _, s := range statuses {
		if got := ParseRunStatus(s.String()); got != s {
			t.Errorf("ParseRunStatus(%q) = %v, want %v", s.String(), got, s)
		}
	}
}

func TestParseOrderType(t *testing.T) {
	if got, ok := ParseOrderType("MARKET"); !ok || got != OrderTypeMarket {
		t.Errorf("ParseOrderType(MARKET) = %v, %v", got, ok)
	}
	if got, ok := ParseOrderType("limit_maker"); !ok || got != OrderTypeLimitMaker {
		t.Errorf("ParseOrderType(limit_maker) = %v, %v", got, ok)
	}
	if _, ok := ParseOrderType("ICEBERG"); ok {
		t.Error("expected ICEBERG to be rejected")
	}
}
