package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/cooldown/pkg/limits/clock"
	"mercator-hq/cooldown/pkg/limits/scheduler"
	"mercator-hq/cooldown/pkg/limits/storage"
	"mercator-hq/cooldown/pkg/limits/usage"
)

// DefaultTolerance absorbs rounding when comparing elapsed time against a
// cooldown duration.
const DefaultTolerance = time.Second

// DefaultPolicy is applied when a feature's policy cannot be resolved and no
// last-known policy exists.
var DefaultPolicy = LimitPolicy{
	Limit:            2,
	CooldownDuration: 120 * time.Second,
	MinTier:          TierLite,
}

// Expiry sources reported in metrics and logs.
const (
	sourceCheck     = "check"
	sourceReconcile = "reconcile"
)

const tracerName = "mercator-hq/cooldown/pkg/limits"

// Config configures an Engine.
type Config struct {
	// Policies resolves per-feature policies. Nil applies DefaultPolicy to
	// every feature.
	Policies PolicyProvider

	// Tiers resolves the caller's tier. Nil uses DefaultTier.
	Tiers TierProvider

	// Storage persists usage records. Nil uses an in-memory backend.
	// The engine never closes it.
	Storage storage.Backend

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *Metrics

	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer

	// DefaultPolicy overrides the package DefaultPolicy fallback.
	DefaultPolicy *LimitPolicy

	// DefaultTier is used when the tier provider fails before any state
	// has been seen.
	DefaultTier TierState

	// Tolerance is ε in the expiry test elapsed >= duration - ε. Zero means
	// DefaultTolerance; negative disables it.
	Tolerance time.Duration

	// SweepSchedule is the cron spec for the fallback sweep.
	SweepSchedule string

	// FlushInterval debounces storage writes. Zero writes through.
	FlushInterval time.Duration
}

// Engine answers limit checks for any number of features. Each
// (feature, scope) key is independent: operations on one key never read,
// write or sweep another.
type Engine struct {
	policies      PolicyProvider
	tiers         TierProvider
	clock         clock.Clock
	logger        *slog.Logger
	metrics       *Metrics
	tracer        trace.Tracer
	defaultPolicy LimitPolicy
	defaultTier   TierState
	tolerance     time.Duration

	store *usage.Store
	sched *scheduler.Scheduler
	bus   *Bus
	locks *keyedMutex

	// lifecycle is held for writing while reconciling so that no Check is
	// answered from state that has not been swept yet.
	lifecycle sync.RWMutex
	closed    bool
	started   bool

	cacheMu    sync.RWMutex
	lastPolicy map[string]LimitPolicy
	lastTier   *TierState
}

var _ EventSink = (*Engine)(nil)

// NewEngine creates an Engine. Call Start to warm state from storage and
// begin the fallback sweep.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Storage == nil {
		cfg.Storage = storage.NewMemoryBackend()
	}
	if cfg.Policies == nil {
		cfg.Policies = NewStaticPolicyProvider(nil)
	}
	if cfg.Tiers == nil {
		cfg.Tiers = NewStaticTierProvider(cfg.DefaultTier)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	switch {
	case cfg.Tolerance == 0:
		cfg.Tolerance = DefaultTolerance
	case cfg.Tolerance < 0:
		cfg.Tolerance = 0
	}

	def := DefaultPolicy
	if cfg.DefaultPolicy != nil {
		def = *cfg.DefaultPolicy
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default policy: %w", err)
	}
	if !cfg.DefaultTier.CurrentTier.Valid() {
		return nil, fmt.Errorf("invalid default tier %d", int(cfg.DefaultTier.CurrentTier))
	}

	e := &Engine{
		policies:      cfg.Policies,
		tiers:         cfg.Tiers,
		clock:         cfg.Clock,
		logger:        cfg.Logger.With("component", "limits.engine"),
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		defaultPolicy: def,
		defaultTier:   cfg.DefaultTier,
		tolerance:     cfg.Tolerance,
		bus:           NewBus(cfg.Logger),
		locks:         newKeyedMutex(),
		lastPolicy:    make(map[string]LimitPolicy),
	}

	e.store = usage.New(cfg.Storage, usage.Config{
		Clock:         cfg.Clock,
		Logger:        cfg.Logger,
		FlushInterval: cfg.FlushInterval,
	})
	e.sched = scheduler.New(scheduler.Config{
		Clock:     cfg.Clock,
		Logger:    cfg.Logger,
		Schedule:  cfg.SweepSchedule,
		Tolerance: e.tolerance,
		OnExpire:  e.handleExpiry,
	})

	return e, nil
}

// OnExpired registers handler for cooldown expiries. Handlers run after the
// key's lock is released and may call back into the engine.
func (e *Engine) OnExpired(handler ExpiredHandler) func() {
	return e.bus.OnExpired(handler)
}

// Check reports whether featureID may be used for scopeKey right now.
// Discovering an expired cooldown resets the key and allows the call.
func (e *Engine) Check(ctx context.Context, featureID, scopeKey string) (CheckResult, error) {
	key := storage.NewKey(featureID, scopeKey)
	ctx, span := e.startSpan(ctx, "limits.Check", key)
	defer span.End()
	defer e.observe("check", time.Now())

	if err := key.Validate(); err != nil {
		return CheckResult{}, e.fail(span, "check", key, err)
	}

	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.closed {
		return CheckResult{}, e.fail(span, "check", key, ErrClosed)
	}

	unlock := e.locks.Lock(key)
	d := e.decide(ctx, key)
	unlock()

	if d.expired {
		e.bus.PublishExpired(key.FeatureID, key.ScopeKey)
	}

	e.metrics.RecordCheck(key.FeatureID, d.result)
	span.SetAttributes(
		attribute.Bool("limits.can_proceed", d.result.CanProceed),
		attribute.Bool("limits.requires_prompt", d.result.RequiresPrompt),
		attribute.Int("limits.usage", d.result.CurrentUsage),
	)
	return d.result, nil
}

// ArmCooldownIfNeeded starts the cooldown for a key that has reached its
// limit. It is a no-op, returning false, when the cooldown is already armed,
// the limit is not reached or the caller bypasses the policy.
func (e *Engine) ArmCooldownIfNeeded(ctx context.Context, featureID, scopeKey string) (bool, error) {
	key := storage.NewKey(featureID, scopeKey)
	ctx, span := e.startSpan(ctx, "limits.ArmCooldownIfNeeded", key)
	defer span.End()
	defer e.observe("arm", time.Now())

	if err := key.Validate(); err != nil {
		return false, e.fail(span, "arm", key, err)
	}

	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.closed {
		return false, e.fail(span, "arm", key, ErrClosed)
	}

	unlock := e.locks.Lock(key)
	d := e.decide(ctx, key)
	armed := false
	if !d.result.CanProceed && d.startAt == nil {
		now := e.now()
		if err := e.store.SetCooldownStart(ctx, key, &now); err != nil {
			e.storageFailure("write", key, err)
		}
		e.armTimer(key, now.Add(d.policy.CooldownDuration))
		e.metrics.RecordArm(key.FeatureID)
		armed = true
		e.logger.Debug("cooldown armed",
			"feature", key.FeatureID,
			"scope", key.ScopeKey,
			"duration", d.policy.CooldownDuration,
		)
	}
	unlock()

	if d.expired {
		e.bus.PublishExpired(key.FeatureID, key.ScopeKey)
	}
	span.SetAttributes(attribute.Bool("limits.armed", armed))
	return armed, nil
}

// Consume records one use when Check would allow it and reports whether it
// did. Consume never arms a cooldown. Bypassed callers are allowed without
// being counted.
func (e *Engine) Consume(ctx context.Context, featureID, scopeKey string) (bool, error) {
	key := storage.NewKey(featureID, scopeKey)
	ctx, span := e.startSpan(ctx, "limits.Consume", key)
	defer span.End()
	defer e.observe("consume", time.Now())

	if err := key.Validate(); err != nil {
		return false, e.fail(span, "consume", key, err)
	}

	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.closed {
		return false, e.fail(span, "consume", key, ErrClosed)
	}

	unlock := e.locks.Lock(key)
	d := e.decide(ctx, key)
	consumed := d.result.CanProceed
	if consumed && !d.result.Bypassed {
		n, err := e.store.Increment(ctx, key)
		if err != nil {
			e.storageFailure("write", key, err)
		}
		span.SetAttributes(attribute.Int("limits.usage", n))
	}
	unlock()

	if d.expired {
		e.bus.PublishExpired(key.FeatureID, key.ScopeKey)
	}
	e.metrics.RecordConsume(key.FeatureID, consumed)
	span.SetAttributes(attribute.Bool("limits.consumed", consumed))
	return consumed, nil
}

// Reset zeroes the key's counter, clears its cooldown and cancels any
// pending timer. Resetting an unused key is a no-op apart from creating it.
func (e *Engine) Reset(ctx context.Context, featureID, scopeKey string) error {
	key := storage.NewKey(featureID, scopeKey)
	ctx, span := e.startSpan(ctx, "limits.Reset", key)
	defer span.End()
	defer e.observe("reset", time.Now())

	if err := key.Validate(); err != nil {
		return e.fail(span, "reset", key, err)
	}

	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.closed {
		return e.fail(span, "reset", key, ErrClosed)
	}

	unlock := e.locks.Lock(key)
	defer unlock()
	e.resetLocked(ctx, key)
	return nil
}

// Usage returns the stored record for a key without creating it or
// applying expiry. The boolean reports whether the key has ever been used.
func (e *Engine) Usage(ctx context.Context, featureID, scopeKey string) (UsageRecord, bool, error) {
	key := storage.NewKey(featureID, scopeKey)
	if err := key.Validate(); err != nil {
		return UsageRecord{}, false, &KeyError{Op: "usage", Key: key, Err: err}
	}

	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.closed {
		return UsageRecord{}, false, &KeyError{Op: "usage", Key: key, Err: ErrClosed}
	}

	unlock := e.locks.Lock(key)
	defer unlock()
	rec, ok, err := e.store.Peek(ctx, key)
	if err != nil {
		e.storageFailure("read", key, err)
		return UsageRecord{}, false, &KeyError{Op: "usage", Key: key, Err: err}
	}
	if !ok {
		return *storage.NewRecord(key, time.Time{}), false, nil
	}
	return *rec, true, nil
}

// Keys returns every key the engine or its storage knows about.
func (e *Engine) Keys(ctx context.Context) ([]Key, error) {
	return e.store.Keys(ctx)
}

// ArmedKeys returns keys with a pending cooldown timer, soonest first.
func (e *Engine) ArmedKeys() []Key {
	return e.sched.Armed()
}

// Running reports whether the engine is started, not closed, and sweeping.
func (e *Engine) Running() bool {
	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	return e.started && !e.closed && e.sched.IsRunning()
}

// Start loads persisted usage, reconciles every key against the clock and
// starts the fallback sweep. The sweep stops when ctx is cancelled or Close
// is called.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	if e.closed {
		e.lifecycle.Unlock()
		return ErrClosed
	}
	if e.started {
		e.lifecycle.Unlock()
		return nil
	}

	if n, err := e.store.Load(ctx); err != nil {
		e.storageFailure("read", storage.Key{}, err)
	} else {
		e.logger.Info("usage state loaded", "records", n)
	}

	expired := e.reconcileLocked(ctx)
	if err := e.sched.Start(ctx); err != nil {
		e.lifecycle.Unlock()
		return fmt.Errorf("failed to start sweep: %w", err)
	}
	e.started = true
	e.lifecycle.Unlock()

	e.publishAll(expired)
	e.logger.Info("limit engine started",
		"expired", len(expired),
		"armed", len(e.sched.Armed()),
	)
	return nil
}

// Resume reconciles every key against the clock, as after the host returns
// from suspension. No Check is answered until it completes. It returns the
// number of cooldowns that expired.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, "limits.Resume")
	defer span.End()
	defer e.observe("resume", time.Now())

	e.lifecycle.Lock()
	if e.closed {
		e.lifecycle.Unlock()
		span.SetStatus(codes.Error, ErrClosed.Error())
		return 0, ErrClosed
	}
	expired := e.reconcileLocked(ctx)
	e.lifecycle.Unlock()

	e.publishAll(expired)
	span.SetAttributes(attribute.Int("limits.expired", len(expired)))
	e.logger.Info("lifecycle reconciliation complete", "expired", len(expired))
	return len(expired), nil
}

// Close stops the sweep, cancels all timers and flushes pending writes.
// Persisted cooldowns are recovered by the next Start.
func (e *Engine) Close(ctx context.Context) error {
	e.lifecycle.Lock()
	if e.closed {
		e.lifecycle.Unlock()
		return nil
	}
	e.closed = true
	e.lifecycle.Unlock()

	e.sched.Stop()
	e.metrics.SetArmed(0)
	if err := e.store.Close(ctx); err != nil {
		e.metrics.RecordStorageError("write")
		return fmt.Errorf("failed to flush usage: %w", err)
	}
	return nil
}

// decision is the outcome of evaluating a key under its lock.
type decision struct {
	result  CheckResult
	policy  LimitPolicy
	startAt *time.Time
	expired bool
}

// now reads the clock without a monotonic component. Cooldown starts are
// compared after persistence, which drops monotonic readings, so elapsed
// time must always be wall time.
func (e *Engine) now() time.Time {
	return e.clock.Now().Round(0)
}

// decide evaluates key and applies any due expiry. Callers hold the key lock.
func (e *Engine) decide(ctx context.Context, key Key) decision {
	policy := e.policy(ctx, key.FeatureID)
	tier := e.tier(ctx)
	now := e.now()

	d := decision{policy: policy}
	d.result.Limit = policy.Limit

	if Bypasses(policy, tier, now) {
		d.result.CanProceed = true
		d.result.Bypassed = true
		return d
	}

	rec, err := e.store.Get(ctx, key)
	if err != nil {
		e.storageFailure("read", key, err)
	}
	d.result.CurrentUsage = rec.Count

	if rec.Armed() {
		elapsed := now.Sub(*rec.CooldownStartAt)
		if e.isExpired(elapsed, policy) {
			e.expireLocked(ctx, key, sourceCheck)
			d.expired = true
			d.result.CanProceed = true
			d.result.CurrentUsage = 0
			return d
		}
		d.startAt = rec.CooldownStartAt
	}

	if rec.Count < policy.Limit {
		d.result.CanProceed = true
		return d
	}

	d.result.RequiresPrompt = true
	if d.startAt == nil {
		return d
	}

	elapsed := now.Sub(*d.startAt)
	remaining := policy.CooldownDuration - elapsed
	if remaining > policy.CooldownDuration {
		// Wall clock moved backwards past the start.
		remaining = policy.CooldownDuration
	}
	d.result.RemainingCooldown = remaining

	// A persisted cooldown whose timer was lost (restart, Close) is re-armed.
	if e.sched.State(key) == scheduler.StateIdle {
		e.armTimer(key, d.startAt.Add(policy.CooldownDuration))
	}
	return d
}

func (e *Engine) isExpired(elapsed time.Duration, policy LimitPolicy) bool {
	return elapsed >= policy.CooldownDuration-e.tolerance
}

// expireLocked resets key after its cooldown ran out. The caller publishes
// the event once the key lock is released.
func (e *Engine) expireLocked(ctx context.Context, key Key, source string) {
	if err := e.store.Reset(ctx, key); err != nil {
		e.storageFailure("write", key, err)
	}
	e.sched.Cancel(key)
	e.metrics.RecordExpiry(key.FeatureID, source)
	e.metrics.SetArmed(len(e.sched.Armed()))
	e.logger.Debug("cooldown expired",
		"feature", key.FeatureID,
		"scope", key.ScopeKey,
		"source", source,
	)
}

func (e *Engine) resetLocked(ctx context.Context, key Key) {
	if err := e.store.Reset(ctx, key); err != nil {
		e.storageFailure("write", key, err)
	}
	e.sched.Cancel(key)
	e.metrics.SetArmed(len(e.sched.Armed()))
}

func (e *Engine) armTimer(key Key, fireAt time.Time) {
	if err := e.sched.Arm(key, fireAt); err != nil {
		e.logger.Warn("failed to arm cooldown timer, relying on sweep",
			"feature", key.FeatureID,
			"scope", key.ScopeKey,
			"error", fmt.Errorf("%w: %v", ErrTimerScheduling, err),
		)
	}
	e.metrics.SetArmed(len(e.sched.Armed()))
}

// handleExpiry is the scheduler callback for both precision timers and the
// sweep. It re-validates the key under its lock since the record may have
// been reset or re-armed after the timer was installed.
func (e *Engine) handleExpiry(key Key, source scheduler.Source) {
	e.lifecycle.RLock()
	if e.closed {
		e.lifecycle.RUnlock()
		return
	}

	ctx := context.Background()
	unlock := e.locks.Lock(key)
	expired := e.expireIfDueLocked(ctx, key, string(source), true)
	unlock()
	e.lifecycle.RUnlock()

	if expired {
		e.bus.PublishExpired(key.FeatureID, key.ScopeKey)
	}
}

// expireIfDueLocked expires key if its persisted cooldown has run out.
// With rearm set, a cooldown that is still running gets its timer back.
func (e *Engine) expireIfDueLocked(ctx context.Context, key Key, source string, rearm bool) bool {
	rec, ok, err := e.store.Peek(ctx, key)
	if err != nil {
		e.storageFailure("read", key, err)
		return false
	}
	if !ok || !rec.Armed() {
		return false
	}

	policy := e.policy(ctx, key.FeatureID)
	elapsed := e.now().Sub(*rec.CooldownStartAt)
	if e.isExpired(elapsed, policy) {
		e.expireLocked(ctx, key, source)
		return true
	}
	if rearm {
		e.armTimer(key, rec.CooldownStartAt.Add(policy.CooldownDuration))
	}
	return false
}

// reconcileLocked sweeps every known key. Callers hold the lifecycle lock
// for writing.
func (e *Engine) reconcileLocked(ctx context.Context) []Key {
	keys, err := e.store.Keys(ctx)
	if err != nil {
		e.storageFailure("read", storage.Key{}, err)
	}

	var expired []Key
	for _, key := range keys {
		unlock := e.locks.Lock(key)
		if e.expireIfDueLocked(ctx, key, sourceReconcile, true) {
			expired = append(expired, key)
		}
		unlock()
	}
	return expired
}

func (e *Engine) publishAll(keys []Key) {
	for _, k := range keys {
		e.bus.PublishExpired(k.FeatureID, k.ScopeKey)
	}
}

// policy resolves featureID's policy, falling back to the last known policy
// and then to the default.
func (e *Engine) policy(ctx context.Context, featureID string) LimitPolicy {
	p, err := e.policies.Get(ctx, featureID)
	if err == nil {
		err = p.Validate()
	}
	if err == nil {
		p.FeatureID = featureID
		e.cacheMu.Lock()
		e.lastPolicy[featureID] = p
		e.cacheMu.Unlock()
		return p
	}

	e.cacheMu.RLock()
	cached, ok := e.lastPolicy[featureID]
	e.cacheMu.RUnlock()

	fallback := "default"
	if ok {
		fallback = "last_known"
	} else {
		cached = e.defaultPolicy
		cached.FeatureID = featureID
	}
	if !errors.Is(err, ErrPolicyUnavailable) {
		err = fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
	}
	e.logger.Warn("policy unavailable, using fallback",
		"feature", featureID,
		"fallback", fallback,
		"error", err,
	)
	e.metrics.RecordFallback("policy", fallback)
	return cached
}

// tier resolves the caller's tier state with the same fallback chain.
func (e *Engine) tier(ctx context.Context) TierState {
	s, err := e.tiers.Get(ctx)
	if err == nil && s.CurrentTier.Valid() {
		e.cacheMu.Lock()
		e.lastTier = &s
		e.cacheMu.Unlock()
		return s
	}
	if err == nil {
		err = fmt.Errorf("unknown tier %d", int(s.CurrentTier))
	}

	e.cacheMu.RLock()
	last := e.lastTier
	e.cacheMu.RUnlock()

	fallback := "default"
	state := e.defaultTier
	if last != nil {
		fallback = "last_known"
		state = *last
	}
	e.logger.Warn("tier state unavailable, using fallback",
		"fallback", fallback,
		"error", fmt.Errorf("%w: %v", ErrTierUnavailable, err),
	)
	e.metrics.RecordFallback("tier", fallback)
	return state
}

func (e *Engine) storageFailure(op string, key Key, err error) {
	e.metrics.RecordStorageError(op)
	attrs := []any{"op", op, "error", err}
	if key.FeatureID != "" {
		attrs = append(attrs, "feature", key.FeatureID, "scope", key.ScopeKey)
	}
	e.logger.Warn("usage storage failure, continuing with in-memory state", attrs...)
}

func (e *Engine) startSpan(ctx context.Context, name string, key Key) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("limits.feature", key.FeatureID),
		attribute.String("limits.scope", key.ScopeKey),
	))
}

func (e *Engine) fail(span trace.Span, op string, key Key, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return &KeyError{Op: op, Key: key, Err: err}
}

func (e *Engine) observe(op string, start time.Time) {
	e.metrics.RecordDuration(op, time.Since(start).Seconds())
}
