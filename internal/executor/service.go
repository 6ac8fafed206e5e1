package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hoangson/trading-runtime/internal/alerting"
	"github.com/hoangson/trading-runtime/internal/metrics"
	"github.com/hoangson/trading-runtime/internal/persistence"
	"github.com/hoangson/trading-runtime/internal/trading"
	"github.com/hoangson/trading-runtime/internal/types"
)

// completedCacheSize bounds the in-memory cache of recently completed
// executors served by status queries without a storage round trip.
const completedCacheSize = 256

// Info is the externally visible snapshot of one executor.
type Info struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Account     string          `json:"account"`
	Exchange    string          `json:"exchange"`
	Pair        string          `json:"pair"`
	Status      types.RunStatus `json:"-"`
	StatusText  string          `json:"status"`
	CloseType   types.CloseType `json:"close_type,omitempty"`
	NetPnLQuote decimal.Decimal `json:"net_pnl_quote"`
	FeesQuote   decimal.Decimal `json:"fees_quote"`
	VolumeQuote decimal.Decimal `json:"volume_quote"`
	CreatedAt   time.Time       `json:"created_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
}

// Summary aggregates executor counts for status reporting.
type Summary struct {
	ActiveTotal   int            `json:"active_total"`
	ActiveByType  map[string]int `json:"active_by_type"`
	HeldPositions int            `json:"held_positions"`
}

type runtime struct {
	exec    Executor
	account string
	cfg     Config
}

// Service is the executor registry and control loop. It instantiates
// typed executors, supervises their completion, persists lifecycle and
// aggregates held positions.
type Service struct {
	registry *TypeRegistry
	facades  *trading.Service
	repo     persistence.Repository
	holds    *HoldTracker
	rec      *metrics.Recorder
	alerter  *alerting.MultiAlerter
	logger   *slog.Logger

	interval    time.Duration
	bookTimeout time.Duration

	mu        sync.Mutex
	active    map[string]*runtime
	completed map[string]Info
	evictList []string

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewService creates the executor service. repo and alerter may be nil.
func NewService(registry *TypeRegistry, facades *trading.Service, repo persistence.Repository, rec *metrics.Recorder, alerter *alerting.MultiAlerter, interval, bookTimeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Service{
		registry:    registry,
		facades:     facades,
		repo:        repo,
		holds:       NewHoldTracker(),
		rec:         rec,
		alerter:     alerter,
		logger:      logger,
		interval:    interval,
		bookTimeout: bookTimeout,
		active:      make(map[string]*runtime),
		completed:   make(map[string]Info),
		done:        make(chan struct{}),
	}
}

// createEnvelope is the common part of a raw executor config.
type createEnvelope struct {
	Type      string `mapstructure:"type"`
	Exchange  string `mapstructure:"exchange"`
	Pair      string `mapstructure:"pair"`
	CreatedAt int64  `mapstructure:"created_at"`
}

// CreateExecutor validates the raw config, prepares the market through
// the account's facade, instantiates and starts the executor, and
// persists its creation. When the executor closes synchronously the
// returned Info already carries the terminal state.
func (s *Service) CreateExecutor(ctx context.Context, account string, raw map[string]any) (Info, error) {
	var env createEnvelope
	if err := mapstructure.Decode(raw, &env); err != nil {
		return Info{}, fmt.Errorf("%w: %v", types.ErrConfigInvalid, err)
	}
	if !s.registry.Known(env.Type) {
		return Info{}, fmt.Errorf("%w: unknown executor type %q", types.ErrConfigInvalid, env.Type)
	}
	if env.Exchange == "" || env.Pair == "" {
		return Info{}, fmt.Errorf("%w: exchange and pair are required", types.ErrConfigInvalid)
	}

	facade := s.facades.GetFacade(account)
	if err := facade.AddMarket(ctx, env.Exchange, env.Pair, s.bookTimeout); err != nil {
		return Info{}, err
	}

	createdAt := time.Now()
	if env.CreatedAt > 0 {
		createdAt = time.Unix(env.CreatedAt, 0)
	}
	cfg := Config{
		ID:        uuid.NewString(),
		Type:      env.Type,
		Exchange:  env.Exchange,
		Pair:      env.Pair,
		CreatedAt: createdAt,
		Raw:       raw,
	}

	exec, err := s.registry.New(cfg, facade, s.logger.With("executor_id", cfg.ID, "type", cfg.Type))
	if err != nil {
		return Info{}, err
	}

	rt := &runtime{exec: exec, account: account, cfg: cfg}
	s.mu.Lock()
	s.active[cfg.ID] = rt
	s.mu.Unlock()

	if err := exec.Start(ctx); err != nil {
		s.mu.Lock()
		delete(s.active, cfg.ID)
		s.mu.Unlock()
		return Info{}, fmt.Errorf("start executor %s: %w", cfg.ID, err)
	}

	s.persistCreation(ctx, rt)
	if s.rec != nil {
		s.rec.RecordExecutorStarted(cfg.Type)
	}
	s.alert(ctx, alerting.EventExecutorStarted, "executor started",
		"executor_id", cfg.ID, "type", cfg.Type, "account", account,
		"exchange", cfg.Exchange, "pair", cfg.Pair)
	s.logger.Info("executor created",
		"executor_id", cfg.ID, "type", cfg.Type, "account", account,
		"exchange", cfg.Exchange, "pair", cfg.Pair)

	// Executors that decide instantly (for example on zero balance)
	// are finalized inline so the caller never sees a stale RUNNING.
	if exec.IsClosed() {
		s.finalize(ctx, rt)
	}

	return s.infoFor(rt), nil
}

func (s *Service) persistCreation(ctx context.Context, rt *runtime) {
	if s.repo == nil {
		return
	}
	rawCfg, err := json.Marshal(rt.cfg.Raw)
	if err != nil {
		rawCfg = []byte("{}")
	}
	rec := persistence.ExecutorRecord{
		ID:        rt.cfg.ID,
		Type:      rt.cfg.Type,
		Account:   rt.account,
		Exchange:  rt.cfg.Exchange,
		Pair:      rt.cfg.Pair,
		Status:    types.RunStatusRunning,
		Config:    string(rawCfg),
		CreatedAt: rt.cfg.CreatedAt,
	}
	if err := s.repo.CreateExecutor(ctx, rec); err != nil {
		s.swallowPersistence(ctx, "persist executor creation", rt.cfg.ID, err)
	}
}

// swallowPersistence logs a storage failure without aborting the
// triggering operation. Live in-memory state stays authoritative.
func (s *Service) swallowPersistence(ctx context.Context, op, executorID string, err error) {
	s.logger.Error(op+" failed", "executor_id", executorID, "err", err)
	if s.rec != nil {
		s.rec.RecordPersistenceFailure()
	}
	s.alert(ctx, alerting.EventPersistenceFailure, op+" failed",
		"executor_id", executorID, "err", err.Error())
}

func (s *Service) alert(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if s.alerter == nil {
		return
	}
	_ = s.alerter.AlertEvent(ctx, event, message, fields...)
}

// Start launches the control loop. The loop's lifetime is governed by
// Stop, not ctx: executors stopped while the process context is already
// cancelled still need their completions observed and persisted, so
// each tick runs against a non-cancellable copy of ctx.
func (s *Service) Start(ctx context.Context) {
	tickCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.tick(tickCtx)
			}
		}
	}()
	s.logger.Info("executor control loop started", "interval", s.interval)
}

// tick advances every facade's logical clock, then reaps completed
// executors. One executor's failing completion never aborts the scan.
func (s *Service) tick(ctx context.Context) {
	start := time.Now()
	s.facades.UpdateAllTimestamps(start)

	s.mu.Lock()
	snapshot := make([]*runtime, 0, len(s.active))
	for _, rt := range s.active {
		snapshot = append(snapshot, rt)
	}
	s.mu.Unlock()

	for _, rt := range snapshot {
		if !rt.exec.IsClosed() {
			continue
		}
		s.finalizeIsolated(ctx, rt)
	}

	if s.rec != nil {
		s.rec.RecordControlTick(time.Since(start))
	}
}

// finalizeIsolated shields the control loop from a panicking
// completion path.
func (s *Service) finalizeIsolated(ctx context.Context, rt *runtime) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("executor completion panicked",
				"executor_id", rt.cfg.ID, "panic", r)
			if s.rec != nil {
				s.rec.RecordError("completion_panic")
			}
		}
	}()
	s.finalize(ctx, rt)
}

// finalize runs completion handling for a closed executor: held
// position aggregation, terminal persistence and eviction from the
// active set.
func (s *Service) finalize(ctx context.Context, rt *runtime) {
	s.mu.Lock()
	if _, ok := s.active[rt.cfg.ID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, rt.cfg.ID)
	s.mu.Unlock()

	exec := rt.exec
	closeType := exec.CloseType()
	state := exec.CustomState()
	closedAt := time.Now()

	if closeType == types.CloseTypePositionHold {
		s.holds.Apply(rt.account, rt.cfg.Exchange, rt.cfg.Pair, rt.cfg.ID, state.FilledOrders)
		if s.rec != nil {
			s.rec.RecordHeldPositions(s.holds.Len())
		}
		s.alert(ctx, alerting.EventPositionHeld, "executor stopped keeping position",
			"executor_id", rt.cfg.ID, "account", rt.account,
			"exchange", rt.cfg.Exchange, "pair", rt.cfg.Pair)
	}

	if s.repo != nil {
		finalState, err := json.Marshal(state)
		if err != nil {
			s.logger.Error("serialize custom state", "executor_id", rt.cfg.ID, "err", err)
			finalState = []byte("{}")
		}
		rec := persistence.ExecutorRecord{
			ID:          rt.cfg.ID,
			Status:      types.RunStatusTerminated,
			CloseType:   closeType,
			NetPnLQuote: exec.NetPnLQuote(),
			FeesQuote:   exec.FeesQuote(),
			VolumeQuote: exec.VolumeQuote(),
			FinalState:  string(finalState),
			ClosedAt:    &closedAt,
		}
		if err := s.repo.CompleteExecutor(ctx, rec); err != nil {
			s.swallowPersistence(ctx, "persist executor completion", rt.cfg.ID, err)
		}
	}

	info := s.infoFor(rt)
	info.ClosedAt = &closedAt
	s.cacheCompleted(info)

	if s.rec != nil {
		s.rec.RecordExecutorCompleted(rt.cfg.Type, string(closeType))
	}
	event := alerting.EventExecutorCompleted
	if closeType == types.CloseTypeFailed {
		event = alerting.EventExecutorFailed
	}
	s.alert(ctx, event, "executor completed",
		"executor_id", rt.cfg.ID, "type", rt.cfg.Type, "close_type", string(closeType))
	s.logger.Info("executor completed",
		"executor_id", rt.cfg.ID, "type", rt.cfg.Type,
		"close_type", string(closeType), "net_pnl", exec.NetPnLQuote())
}

func (s *Service) cacheCompleted(info Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[info.ID] = info
	s.evictList = append(s.evictList, info.ID)
	for len(s.evictList) > completedCacheSize {
		oldest := s.evictList[0]
		s.evictList = s.evictList[1:]
		delete(s.completed, oldest)
	}
}

func (s *Service) infoFor(rt *runtime) Info {
	status := rt.exec.Status()
	return Info{
		ID:          rt.cfg.ID,
		Type:        rt.cfg.Type,
		Account:     rt.account,
		Exchange:    rt.cfg.Exchange,
		Pair:        rt.cfg.Pair,
		Status:      status,
		StatusText:  status.String(),
		CloseType:   rt.exec.CloseType(),
		NetPnLQuote: rt.exec.NetPnLQuote(),
		FeesQuote:   rt.exec.FeesQuote(),
		VolumeQuote: rt.exec.VolumeQuote(),
		CreatedAt:   rt.cfg.CreatedAt,
	}
}

// StopExecutor signals an early graceful stop. It does not wait for
// completion; the control loop finalizes the executor on a later tick.
func (s *Service) StopExecutor(ctx context.Context, id string, keepPosition bool) error {
	s.mu.Lock()
	rt, ok := s.active[id]
	if !ok {
		_, wasCompleted := s.completed[id]
		s.mu.Unlock()
		if wasCompleted {
			return fmt.Errorf("%w: %s", types.ErrExecutorAlreadyClosed, id)
		}
		if s.repo != nil {
			rec, err := s.repo.GetExecutor(ctx, id)
			if err == nil && rec != nil {
				return fmt.Errorf("%w: %s", types.ErrExecutorAlreadyClosed, id)
			}
		}
		return fmt.Errorf("%w: %s", types.ErrExecutorNotFound, id)
	}
	s.mu.Unlock()

	if rt.exec.IsClosed() {
		return fmt.Errorf("%w: %s", types.ErrExecutorAlreadyClosed, id)
	}

	rt.exec.EarlyStop(keepPosition)
	s.logger.Info("executor stop requested", "executor_id", id, "keep_position", keepPosition)
	return nil
}

// GetExecutor returns the best available view of an executor: live,
// recently completed, or last persisted.
func (s *Service) GetExecutor(ctx context.Context, id string) (Info, error) {
	s.mu.Lock()
	if rt, ok := s.active[id]; ok {
		s.mu.Unlock()
		return s.infoFor(rt), nil
	}
	if info, ok := s.completed[id]; ok {
		s.mu.Unlock()
		return info, nil
	}
	s.mu.Unlock()

	if s.repo != nil {
		rec, err := s.repo.GetExecutor(ctx, id)
		if err != nil {
			return Info{}, fmt.Errorf("%w: %v", types.ErrPersistence, err)
		}
		if rec != nil {
			return recordToInfo(*rec), nil
		}
	}
	return Info{}, fmt.Errorf("%w: %s", types.ErrExecutorNotFound, id)
}

func recordToInfo(rec persistence.ExecutorRecord) Info {
	return Info{
		ID:          rec.ID,
		Type:        rec.Type,
		Account:     rec.Account,
		Exchange:    rec.Exchange,
		Pair:        rec.Pair,
		Status:      rec.Status,
		StatusText:  rec.Status.String(),
		CloseType:   rec.CloseType,
		NetPnLQuote: rec.NetPnLQuote,
		FeesQuote:   rec.FeesQuote,
		VolumeQuote: rec.VolumeQuote,
		CreatedAt:   rec.CreatedAt,
		ClosedAt:    rec.ClosedAt,
	}
}

// ListActive returns snapshots of the active set, oldest first.
func (s *Service) ListActive() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.active))
	for _, rt := range s.active {
		out = append(out, s.infoFor(rt))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveIDs returns the ids currently in the active set.
func (s *Service) ActiveIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summarize aggregates the live state for status reporting.
func (s *Service) Summarize() Summary {
	s.mu.Lock()
	byType := make(map[string]int)
	for _, rt := range s.active {
		byType[rt.cfg.Type]++
	}
	total := len(s.active)
	s.mu.Unlock()

	return Summary{
		ActiveTotal:   total,
		ActiveByType:  byType,
		HeldPositions: s.holds.Len(),
	}
}

// HeldPositions returns every held position aggregate.
func (s *Service) HeldPositions() []PositionHold {
	return s.holds.List()
}

// HeldPosition returns one aggregate by key.
func (s *Service) HeldPosition(key string) (PositionHold, bool) {
	return s.holds.Get(key)
}

// ClearHeldPosition drops an aggregate after a manual close.
func (s *Service) ClearHeldPosition(key string) bool {
	cleared := s.holds.Clear(key)
	if cleared && s.rec != nil {
		s.rec.RecordHeldPositions(s.holds.Len())
	}
	return cleared
}

// CleanupOrphans marks every persisted RUNNING record that is not in
// the live active set as TERMINATED. Returns the number repaired. Run
// at startup to repair state left by an ungraceful shutdown.
func (s *Service) CleanupOrphans(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	n, err := s.repo.MarkOrphans(ctx, s.ActiveIDs(), types.CloseTypeSystemCleanup, time.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	if n > 0 {
		s.alert(ctx, alerting.EventOrphansCleaned, "orphaned executors terminated", "count", n)
		s.logger.Warn("orphaned executor records repaired", "count", n)
	}
	return n, nil
}

// RecoverPositions replays the persisted final state of every executor
// that closed keeping its position, rebuilding the in-memory held
// position aggregates. Unparseable records are skipped, not fatal.
// Returns the number of records applied.
func (s *Service) RecoverPositions(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	records, err := s.repo.QueryExecutors(ctx, persistence.ExecutorFilter{
		CloseType: types.CloseTypePositionHold,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}

	applied := 0
	for _, rec := range records {
		var state types.CustomState
		if err := json.Unmarshal([]byte(rec.FinalState), &state); err != nil {
			s.logger.Warn("skipping unparseable final state",
				"executor_id", rec.ID, "err", err)
			continue
		}
		if len(state.FilledOrders) == 0 {
			continue
		}
		s.holds.Apply(rec.Account, rec.Exchange, rec.Pair, rec.ID, state.FilledOrders)
		applied++
	}
	if s.rec != nil {
		s.rec.RecordHeldPositions(s.holds.Len())
	}
	if applied > 0 {
		s.logger.Info("held positions recovered", "records", applied, "aggregates", s.holds.Len())
	}
	return applied, nil
}

// StopAllExecutors signals an early stop to every active executor.
// Used during shutdown; completion is best effort.
func (s *Service) StopAllExecutors(keepPosition bool) {
	s.mu.Lock()
	snapshot := make([]*runtime, 0, len(s.active))
	for _, rt := range s.active {
		snapshot = append(snapshot, rt)
	}
	s.mu.Unlock()

	for _, rt := range snapshot {
		rt.exec.EarlyStop(keepPosition)
	}
}

// Stop halts the control loop and runs one final completion scan, so
// executors that closed after the last tick still reach a terminal
// record. Executors are signalled separately via StopAllExecutors.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.tick(context.Background())
		s.logger.Info("executor control loop stopped")
	})
}
