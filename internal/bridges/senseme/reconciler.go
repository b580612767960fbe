package senseme

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Reconciler timings.
const (
	// defaultPopTimeout is how long the loop blocks on an empty queue
	// before re-checking for shutdown.
	defaultPopTimeout = time.Second

	// identityPersistTimeout bounds a single IdentityStore call.
	identityPersistTimeout = 5 * time.Second

	// requeryTimeout bounds the full-state query issued on REINIT.
	requeryTimeout = 5 * time.Second
)

// StateSink receives canonical state changes. notify is false for the
// first value observed since start or REINIT (the baseline).
type StateSink interface {
	Publish(deviceID string, attr Attribute, value string, notify bool)
}

// IdentityStore persists a fan's learned identity.
type IdentityStore interface {
	UpdateIdentity(ctx context.Context, deviceID, identity string) error
}

// Querier asks a fan to report its full state again.
type Querier interface {
	Requery(ctx context.Context, deviceID string) error
}

// ReconcilerStats holds reconciler counters.
type ReconcilerStats struct {
	FramesProcessed uint64
	FramesIgnored   uint64
	Duplicates      uint64
	Changes         uint64
	Reinits         uint64
}

// ReconcilerOptions carries collaborators for NewReconciler.
type ReconcilerOptions struct {
	Queue   *EventQueue
	Sink    StateSink
	Watches *WatchTable

	// Identities and Querier are optional.
	Identities IdentityStore
	Querier    Querier

	Clock      clockwork.Clock
	PopTimeout time.Duration
	Logger     Logger
}

// deviceRecord is the reconciler-owned record for one fan.
type deviceRecord struct {
	state *FanState
	unit  TemperatureUnit
}

// Reconciler is the single consumer of the event queue and the only
// writer of canonical fan state.
type Reconciler struct {
	queue      *EventQueue
	sink       StateSink
	watches    *WatchTable
	identities IdentityStore
	querier    Querier
	clock      clockwork.Clock
	popTimeout time.Duration
	logger     Logger

	mu      sync.RWMutex
	devices map[string]*deviceRecord

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	framesProcessed atomic.Uint64
	framesIgnored   atomic.Uint64
	duplicates      atomic.Uint64
	changes         atomic.Uint64
	reinits         atomic.Uint64
}

// NewReconciler creates a reconciler. Call Start to begin consuming.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	popTimeout := opts.PopTimeout
	if popTimeout <= 0 {
		popTimeout = defaultPopTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	watches := opts.Watches
	if watches == nil {
		watches = NewWatchTable()
	}

	return &Reconciler{
		queue:      opts.Queue,
		sink:       opts.Sink,
		watches:    watches,
		identities: opts.Identities,
		querier:    opts.Querier,
		clock:      clock,
		popTimeout: popTimeout,
		logger:     opts.Logger,
		devices:    make(map[string]*deviceRecord),
		done:       make(chan struct{}),
	}
}

// Start begins draining the queue in a new goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop ends the loop and waits for it. Safe to call multiple times.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		ev, ok := r.queue.Pop(ctx, r.popTimeout)
		if !ok {
			continue
		}
		r.Process(ev)
	}
}

// Register creates the canonical record for a fan. Frames for fans that
// are not registered are ignored. Registering an existing fan keeps its
// state and updates the identity and unit.
func (r *Reconciler) Register(deviceID, identity string, unit TemperatureUnit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.devices[deviceID]; ok {
		rec.state.Identity = identity
		rec.unit = unit
		return
	}
	r.devices[deviceID] = &deviceRecord{
		state: newFanState(deviceID, identity),
		unit:  unit,
	}
}

// Forget drops a fan's canonical record.
func (r *Reconciler) Forget(deviceID string) {
	r.mu.Lock()
	delete(r.devices, deviceID)
	r.mu.Unlock()
}

// Snapshot returns a copy of a fan's canonical state.
func (r *Reconciler) Snapshot(deviceID string) (FanState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.devices[deviceID]
	if !ok {
		return FanState{}, false
	}
	return rec.state.clone(), true
}

// Identity returns the identity currently used for a fan.
func (r *Reconciler) Identity(deviceID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.devices[deviceID]
	if !ok {
		return "", false
	}
	return rec.state.Identity, true
}

// Stats returns reconciler counters.
func (r *Reconciler) Stats() ReconcilerStats {
	return ReconcilerStats{
		FramesProcessed: r.framesProcessed.Load(),
		FramesIgnored:   r.framesIgnored.Load(),
		Duplicates:      r.duplicates.Load(),
		Changes:         r.changes.Load(),
		Reinits:         r.reinits.Load(),
	}
}

// Process applies one event. The loop calls it serially; tests may call
// it directly.
func (r *Reconciler) Process(ev Event) {
	switch ev.Kind {
	case KindDebug:
		r.logDebug("fan debug", "device_id", ev.DeviceID, "message", ev.Payload)
	case KindReinit:
		r.reinit(ev.DeviceID, ev.Payload != ReinitQueried)
	case KindFrame:
		r.applyFrame(ev.DeviceID, ev.Payload)
	}
}

func (r *Reconciler) reinit(deviceID string, requery bool) {
	r.mu.Lock()
	rec, ok := r.devices[deviceID]
	if ok {
		rec.state.reset()
		rec.state.UpdatedAt = r.clock.Now()
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.reinits.Add(1)
	r.logInfo("fan state reset after reconnect", "device_id", deviceID)

	if !requery || r.querier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requeryTimeout)
	defer cancel()
	if err := r.querier.Requery(ctx, deviceID); err != nil {
		r.logWarn("re-query after reconnect failed", "device_id", deviceID, "error", err)
	}
}

// change is one canonical update to hand to the sink.
type change struct {
	attr   Attribute
	value  string
	notify bool
}

func (r *Reconciler) applyFrame(deviceID, payload string) {
	// Watch completion happens after the state update below so a woken
	// SendAndConfirm caller observes the new value.
	defer r.watches.Match(deviceID, payload)

	r.mu.Lock()
	rec, ok := r.devices[deviceID]
	if !ok {
		r.mu.Unlock()
		r.framesIgnored.Add(1)
		return
	}

	reading, ok := Decode(payload, rec.unit)
	if !ok {
		r.mu.Unlock()
		r.framesIgnored.Add(1)
		return
	}
	r.framesProcessed.Add(1)

	state := rec.state
	prev := state.Values[reading.Attribute]
	if prev == reading.Value {
		r.mu.Unlock()
		r.duplicates.Add(1)
		return
	}

	state.Values[reading.Attribute] = reading.Value
	state.UpdatedAt = r.clock.Now()
	changes := []change{{attr: reading.Attribute, value: reading.Value, notify: prev != Unknown}}

	upgraded := false
	if reading.Attribute == AttrIdentity && state.Identity != reading.Value {
		state.Identity = reading.Value
		upgraded = true
	}

	prevSummary := state.Summary
	if summary := summarize(state.Values); summary != prevSummary {
		state.Summary = summary
		changes = append(changes, change{attr: AttrStatus, value: summary, notify: prevSummary != Unknown})
	}
	r.mu.Unlock()

	r.changes.Add(1)
	if upgraded {
		r.persistIdentity(deviceID, reading.Value)
	}
	if r.sink == nil {
		return
	}
	for _, c := range changes {
		r.sink.Publish(deviceID, c.attr, c.value, c.notify)
	}
}

func (r *Reconciler) persistIdentity(deviceID, identity string) {
	r.logInfo("learned fan identity", "device_id", deviceID, "identity", identity)
	if r.identities == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), identityPersistTimeout)
	defer cancel()
	if err := r.identities.UpdateIdentity(ctx, deviceID, identity); err != nil {
		r.logWarn("failed to persist fan identity", "device_id", deviceID, "error", err)
	}
}

func (r *Reconciler) logDebug(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, keysAndValues...)
	}
}

func (r *Reconciler) logInfo(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *Reconciler) logWarn(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, keysAndValues...)
	}
}
