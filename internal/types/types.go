// Package types defines shared types used across the trading runtime.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeType represents the direction of an order.
type TradeType int

const (
	TradeTypeBuy TradeType = iota
	TradeTypeSell
)

func (t TradeType) String() string {
	if t == TradeTypeSell {
		return "SELL"
	}
	return "BUY"
}

// Opposite returns the opposite trade direction.
func (t TradeType) Opposite() TradeType {
	if t == TradeTypeBuy {
		return TradeTypeSell
	}
	return TradeTypeBuy
}

// ParseTradeType parses a trade type string ("BUY"/"SELL").
func ParseTradeType(s string) (TradeType, bool) {
	switch s {
	case "BUY", "buy":
		return TradeTypeBuy, true
	case "SELL", "sell":
		return TradeTypeSell, true
	default:
		return TradeTypeBuy, false
	}
}

// OrderType represents the execution style of an order.
type OrderType int

const (
	OrderTypeLimit OrderType = iota
	OrderTypeMarket
	OrderTypeLimitMaker
)

func (o OrderType) String() string {
	switch o {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimitMaker:
		return "LIMIT_MAKER"
	default:
		return "LIMIT"
	}
}

// ParseOrderType parses an order type string.
func ParseOrderType(s string) (OrderType, bool) {
	switch s {
	case "LIMIT", "limit":
		return OrderTypeLimit, true
	case "MARKET", "market":
		return OrderTypeMarket, true
	case "LIMIT_MAKER", "limit_maker":
		return OrderTypeLimitMaker, true
	default:
		return OrderTypeLimit, false
	}
}

// PositionAction tells a derivative exchange whether an order opens or
// closes a position. Spot orders use PositionActionNil.
type PositionAction int

const (
	PositionActionNil PositionAction = iota
	PositionActionOpen
	PositionActionClose
)

func (p PositionAction) String() string {
	switch p {
	case PositionActionOpen:
		return "OPEN"
	case PositionActionClose:
		return "CLOSE"
	default:
		return "NIL"
	}
}

// OrderStatus represents the lifecycle state of an exchange order.
type OrderStatus int

const (
	OrderStatusSubmitted OrderStatus = iota
	OrderStatusOpen
	OrderStatusPartialFill
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusFailed
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusOpen:
		return "OPEN"
	case OrderStatusPartialFill:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the order can no longer change state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// ParseOrderStatus parses an order status string.
func ParseOrderStatus(s string) OrderStatus {
	switch s {
	case "OPEN":
		return OrderStatusOpen
	case "PARTIALLY_FILLED":
		return OrderStatusPartialFill
	case "FILLED":
		return OrderStatusFilled
	case "CANCELLED":
		return OrderStatusCancelled
	case "FAILED":
		return OrderStatusFailed
	default:
		return OrderStatusSubmitted
	}
}

// RunStatus represents the lifecycle state of an executor.
type RunStatus int

const (
	RunStatusNotStarted RunStatus = iota
	RunStatusRunning
	RunStatusShuttingDown
	RunStatusTerminated
)

func (s RunStatus) String() string {
	switch s {
	case RunStatusNotStarted:
		return "NOT_STARTED"
	case RunStatusRunning:
		return "RUNNING"
	case RunStatusShuttingDown:
		return "SHUTTING_DOWN"
	case RunStatusTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// ParseRunStatus parses a run status string.
func ParseRunStatus(s string) RunStatus {
	switch s {
	case "RUNNING":
		return RunStatusRunning
	case "SHUTTING_DOWN":
		return RunStatusShuttingDown
	case "TERMINATED":
		return RunStatusTerminated
	default:
		return RunStatusNotStarted
	}
}

// CloseType records why an executor ended.
type CloseType string

const (
	CloseTypeNone          CloseType = ""
	CloseTypeCompleted     CloseType = "COMPLETED"
	CloseTypeTakeProfit    CloseType = "TAKE_PROFIT"
	CloseTypeStopLoss      CloseType = "STOP_LOSS"
	CloseTypeTimeLimit     CloseType = "TIME_LIMIT"
	CloseTypeEarlyStop     CloseType = "EARLY_STOP"
	CloseTypePositionHold  CloseType = "POSITION_HOLD"
	CloseTypeFailed        CloseType = "FAILED"
	CloseTypeInsufficient  CloseType = "INSUFFICIENT_BALANCE"
	CloseTypeSystemCleanup CloseType = "SYSTEM_CLEANUP"
)

// PriceLevel is one level of an order book side.
type PriceLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// TradingRule holds per-pair order constraints published by an exchange.
type TradingRule struct {
	Pair           string
	MinOrderSize   decimal.Decimal
	MinPriceStep   decimal.Decimal
	MinAmountStep  decimal.Decimal
	MinNotional    decimal.Decimal
	SupportsMarket bool
}

// OrderRequest is the payload handed to an exchange adapter for placement.
type OrderRequest struct {
	ClientOrderID  string
	Pair           string
	Side           TradeType
	Type           OrderType
	Amount         decimal.Decimal
	Price          decimal.Decimal
	PositionAction PositionAction
}

// OpenOrder is one entry of a session's in-flight order table.
type OpenOrder struct {
	ClientOrderID   string
	ExchangeOrderID string
	Pair            string
	Side            TradeType
	Type            OrderType
	Amount          decimal.Decimal
	Price           decimal.Decimal
	FilledBase      decimal.Decimal
	FilledQuote     decimal.Decimal
	Status          OrderStatus
	PositionAction  PositionAction
	CreatedAt       time.Time
}

// Position is a derivative position as reported by an exchange.
type Position struct {
	Pair          string
	Side          TradeType
	Amount        decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Leverage      int
}

// Balance is one asset balance on an exchange.
type Balance struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
}

// FilledOrder is the per-order fill record executors publish in their
// custom state. It is the unit held-position aggregation consumes.
type FilledOrder struct {
	OrderID     string          `json:"order_id"`
	Side        string          `json:"side"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
}

// CustomState is the serializable snapshot an executor leaves behind at
// close. FilledOrders must be present when the executor closed with
// keep-position semantics so the aggregate can be rebuilt after restart.
type CustomState struct {
	FilledOrders []FilledOrder  `json:"filled_orders"`
	Extra        map[string]any `json:"extra,omitempty"`
}
