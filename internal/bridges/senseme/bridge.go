package senseme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/mqtt"
)

// registryLoadTimeout bounds loading fans from the registry on Start.
const registryLoadTimeout = 10 * time.Second

// MQTTClient is the subset of the MQTT client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// FanRegistry lists the fans to run when the bridge starts.
type FanRegistry interface {
	ListFans(ctx context.Context) ([]DeviceConfig, error)
}

// StateChange is one canonical update as seen by observers.
type StateChange struct {
	DeviceID  string
	Attribute Attribute
	Value     string
	Notify    bool
	Timestamp time.Time
}

// StateObserver is told about every canonical change. Observers are
// called from the reconciler goroutine and must not block.
type StateObserver interface {
	ObserveState(change StateChange)
}

// Options configures a Bridge. Only zero values need no explanation: a
// nil MQTT client, registry or identity store simply disables that
// integration.
type Options struct {
	BridgeID string
	Version  string

	MQTT       MQTTClient
	Registry   FanRegistry
	Identities IdentityStore
	Observers  []StateObserver

	QueueSize       int
	ConfirmTimeout  time.Duration
	HealthInterval  time.Duration
	ReconnectDelay  time.Duration
	RetryDelay      time.Duration
	PollInterval    time.Duration
	TemperatureUnit TemperatureUnit

	// UDPAddress enables the broadcast listener when set, e.g. ":31415".
	UDPAddress string

	Dialer Dialer
	Clock  clockwork.Clock
	Logger Logger
}

// CommandRequest is a named command for Execute.
type CommandRequest struct {
	// Command is a catalogue name or CommandRawName.
	Command string
	Value   *int

	// Raw is the request body for CommandRawName.
	Raw string

	// Predicate is the confirming substring for a raw request. Catalogue
	// commands carry their own.
	Predicate string

	// Confirm waits for the fan to report the change.
	Confirm bool
	Timeout time.Duration
}

// DeviceStatus describes one running fan.
type DeviceStatus struct {
	ID         string          `json:"id"`
	Identity   string          `json:"identity"`
	Address    string          `json:"address"`
	State      string          `json:"connection_state"`
	Connection ConnectionStats `json:"-"`
}

type managedDevice struct {
	cfg  DeviceConfig
	conn *Connection
}

// Bridge runs one Connection per fan, the shared Reconciler and the
// Correlator, and exposes them over MQTT.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts       Options
	queue      *EventQueue
	watches    *WatchTable
	reconciler *Reconciler
	correlator *Correlator
	health     *HealthReporter
	listener   *Listener
	clock      clockwork.Clock
	logger     Logger

	// sendUDP is the fallback transport while no session is open.
	sendUDP func(ctx context.Context, ip string, port int, raw string) error

	mu      sync.RWMutex
	devices map[string]*managedDevice
	stopped bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	commandsRx     atomic.Uint64
	commandsFailed atomic.Uint64
}

// NewBridge creates a bridge. Call Start to run it.
func NewBridge(opts Options) *Bridge {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.TemperatureUnit == "" {
		opts.TemperatureUnit = Celsius
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		opts:    opts,
		queue:   NewEventQueue(opts.QueueSize),
		watches: NewWatchTable(),
		clock:   clock,
		logger:  opts.Logger,
		sendUDP: SendUDP,
		devices: make(map[string]*managedDevice),
		ctx:     ctx,
		cancel:  cancel,
	}

	b.reconciler = NewReconciler(ReconcilerOptions{
		Queue:      b.queue,
		Sink:       &statePublisher{b: b},
		Watches:    b.watches,
		Identities: b,
		Querier:    b,
		Clock:      clock,
		Logger:     opts.Logger,
	})
	b.correlator = NewCorrelator(b.watches, b, clock, opts.ConfirmTimeout)

	if opts.MQTT != nil {
		b.health = NewHealthReporter(HealthReporterConfig{
			BridgeID:  opts.BridgeID,
			Version:   opts.Version,
			Interval:  opts.HealthInterval,
			Publisher: opts.MQTT,
			Source:    b,
			Clock:     clock,
			Logger:    opts.Logger,
		})
	}
	if opts.UDPAddress != "" {
		b.listener = NewListener(opts.UDPAddress, b.queue, b.resolveDevice, opts.Logger)
	}
	return b
}

// Start launches the reconciler, the UDP listener and the MQTT command
// subscription, then starts every fan in the registry. A fan that fails
// to start is logged and skipped.
func (b *Bridge) Start(ctx context.Context) error {
	if b.health != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logWarn("failed to publish starting status", "error", err)
		}
	}

	b.reconciler.Start(b.ctx)

	if b.listener != nil {
		if err := b.listener.Start(); err != nil {
			return fmt.Errorf("starting udp listener: %w", err)
		}
		b.logInfo("udp listener started", "address", b.listener.Addr().String())
	}

	if b.opts.MQTT != nil {
		topic := mqtt.Topics{}.AllCommands()
		if err := b.opts.MQTT.Subscribe(topic, 1, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logInfo("subscribed to commands", "topic", topic)
	}

	b.loadFromRegistry(ctx)

	if b.health != nil {
		b.health.Start(b.ctx)
	}

	b.logInfo("bridge started", "bridge_id", b.opts.BridgeID, "fans", b.DeviceCount())
	return nil
}

// Stop shuts everything down and waits for every goroutine the bridge
// started. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		devices := b.devices
		b.devices = make(map[string]*managedDevice)
		b.mu.Unlock()

		b.cancel()

		if b.listener != nil {
			b.listener.Stop()
		}
		for id, dev := range devices {
			dev.conn.Stop()
			b.reconciler.Forget(id)
		}

		b.wg.Wait()
		b.reconciler.Stop()
		if b.health != nil {
			b.health.Stop()
		}

		b.logInfo("bridge stopped")
	})
}

func (b *Bridge) loadFromRegistry(ctx context.Context) {
	if b.opts.Registry == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, registryLoadTimeout)
	defer cancel()

	fans, err := b.opts.Registry.ListFans(ctx)
	if err != nil {
		b.logError("failed to load fans from registry", "error", err)
		return
	}
	for _, cfg := range fans {
		if err := b.StartDevice(cfg.ID, cfg); err != nil {
			b.logError("failed to start fan", "device_id", cfg.ID, "error", err)
		}
	}
}

// StartDevice registers a fan and starts its connection.
//
// Starting a fan that is already running with the same configuration is a
// no-op. A changed configuration tears the old connection down first,
// since an endpoint is fixed for the life of a connection.
func (b *Bridge) StartDevice(id string, cfg DeviceConfig) error {
	if cfg.ID == "" {
		cfg.ID = id
	}
	if cfg.ID != id {
		return fmt.Errorf("%w: id %q does not match configuration id %q", ErrInvalidConfig, id, cfg.ID)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return fmt.Errorf("start %s: bridge stopped", id)
	}

	if existing, ok := b.devices[id]; ok {
		if existing.cfg == cfg {
			return nil
		}
		b.logInfo("fan configuration changed, restarting", "device_id", id)
		existing.conn.Stop()
		b.reconciler.Forget(id)
		delete(b.devices, id)
	}

	b.reconciler.Register(id, cfg.Identity(), cfg.unit(b.opts.TemperatureUnit))

	conn := NewConnection(ConnectionOptions{
		Config: ConnectionConfig{
			DeviceID:       id,
			Identity:       cfg.Identity(),
			IP:             cfg.IP,
			Port:           cfg.Port,
			IdleTimeout:    cfg.IdleTimeout,
			PollInterval:   b.opts.PollInterval,
			ReconnectDelay: b.opts.ReconnectDelay,
			RetryDelay:     b.opts.RetryDelay,
		},
		Events: b.queue,
		Dialer: b.opts.Dialer,
		Clock:  b.clock,
		Logger: b.logger,
	})
	b.devices[id] = &managedDevice{cfg: cfg, conn: conn}
	conn.Start()

	b.logInfo("fan started", "device_id", id, "identity", cfg.Identity(), "address", conn.cfg.Address())
	return nil
}

// StopDevice stops a fan's connection, waits for it to exit and drops its
// canonical state.
func (b *Bridge) StopDevice(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev, ok := b.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(b.devices, id)

	dev.conn.Stop()
	b.reconciler.Forget(id)

	b.logInfo("fan stopped", "device_id", id)
	return nil
}

func (b *Bridge) device(id string) (*managedDevice, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	dev, ok := b.devices[id]
	return dev, ok
}

// Send writes raw to the fan's open session, or as a UDP datagram while
// the session is down.
func (b *Bridge) Send(ctx context.Context, id, raw string) error {
	dev, ok := b.device(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	err := dev.conn.Write(ctx, raw)
	if err == nil {
		return nil
	}
	b.logDebug("tcp write unavailable, sending over udp", "device_id", id, "error", err)

	if udpErr := b.sendUDP(ctx, dev.cfg.IP, dev.cfg.Port, raw); udpErr != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, udpErr)
	}
	return nil
}

// SendCommand sends raw to a fan without waiting for confirmation.
func (b *Bridge) SendCommand(ctx context.Context, id, raw string) error {
	return b.Send(ctx, id, raw)
}

// SendAndConfirm sends raw and waits until the fan reports a frame
// containing predicate, or timeout elapses.
func (b *Bridge) SendAndConfirm(ctx context.Context, id, raw, predicate string, timeout time.Duration) error {
	if _, ok := b.device(id); !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return b.correlator.SendAndConfirm(ctx, id, raw, predicate, timeout)
}

func (b *Bridge) sendAndConfirmAny(ctx context.Context, id, raw string, predicates []string, timeout time.Duration) error {
	if _, ok := b.device(id); !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return b.correlator.SendAndConfirmAny(ctx, id, raw, predicates, timeout)
}

// Execute encodes a catalogue command for the fan and sends it. With
// Confirm set and a command that has a confirmation, it returns
// AckConfirmed once the fan reports the change; otherwise AckAccepted.
func (b *Bridge) Execute(ctx context.Context, id string, cmd CommandRequest) (AckStatus, error) {
	b.commandsRx.Add(1)

	status, err := b.execute(ctx, id, cmd)
	if err != nil {
		b.commandsFailed.Add(1)
		if errors.Is(err, ErrConfirmTimeout) {
			b.logWarn("fan did not confirm command", "device_id", id, "command", cmd.Command, "error", err)
		}
	}
	return status, err
}

func (b *Bridge) execute(ctx context.Context, id string, cmd CommandRequest) (AckStatus, error) {
	identity, ok := b.Identity(id)
	if !ok {
		return AckFailed, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	if cmd.Command == CommandRawName {
		return b.executeRaw(ctx, id, identity, cmd)
	}

	req, err := BuildCommand(identity, cmd.Command, cmd.Value)
	if err != nil {
		return AckFailed, err
	}

	if cmd.Confirm && len(req.Confirm) > 0 {
		return confirmStatus(b.sendAndConfirmAny(ctx, id, req.Raw, req.Confirm, cmd.Timeout))
	}

	if err := b.SendCommand(ctx, id, req.Raw); err != nil {
		return AckFailed, err
	}
	return AckAccepted, nil
}

// executeRaw sends a caller-supplied request. Confirming one requires the
// caller's predicate.
func (b *Bridge) executeRaw(ctx context.Context, id, identity string, cmd CommandRequest) (AckStatus, error) {
	req, err := BuildRaw(identity, cmd.Raw)
	if err != nil {
		return AckFailed, err
	}

	if cmd.Confirm {
		if cmd.Predicate == "" {
			return AckFailed, fmt.Errorf("%w: confirming a raw request needs a predicate", ErrInvalidValue)
		}
		return confirmStatus(b.SendAndConfirm(ctx, id, req.Raw, cmd.Predicate, cmd.Timeout))
	}

	if err := b.SendCommand(ctx, id, req.Raw); err != nil {
		return AckFailed, err
	}
	return AckAccepted, nil
}

func confirmStatus(err error) (AckStatus, error) {
	switch {
	case err == nil:
		return AckConfirmed, nil
	case errors.Is(err, ErrConfirmTimeout):
		return AckTimeout, err
	default:
		return AckFailed, err
	}
}

// Query asks the fan one question over a fresh session and returns the
// value of its reply. q is a request body such as "FAN;SPD;GET".
func (b *Bridge) Query(ctx context.Context, id, q string) (string, error) {
	dev, ok := b.device(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	identity, _ := b.Identity(id)

	req, err := BuildRaw(identity, q)
	if err != nil {
		return "", err
	}
	return Query(ctx, b.opts.Dialer, dev.conn.cfg.Address(), req.Raw)
}

// Requery implements Querier by resending the full-state burst.
func (b *Bridge) Requery(ctx context.Context, id string) error {
	dev, ok := b.device(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return dev.conn.QueryAll(ctx)
}

// UpdateIdentity implements IdentityStore. It records the learned
// identity on the running fan and passes it on to the configured store.
func (b *Bridge) UpdateIdentity(ctx context.Context, id, identity string) error {
	b.mu.Lock()
	if dev, ok := b.devices[id]; ok {
		dev.cfg.LearnedID = identity
	}
	b.mu.Unlock()

	if b.opts.Identities == nil {
		return nil
	}
	return b.opts.Identities.UpdateIdentity(ctx, id, identity)
}

// Identity returns the token commands for the fan are addressed to.
func (b *Bridge) Identity(id string) (string, bool) {
	if identity, ok := b.reconciler.Identity(id); ok && identity != "" {
		return identity, true
	}
	dev, ok := b.device(id)
	if !ok {
		return "", false
	}
	return dev.cfg.Identity(), true
}

// State returns a copy of the fan's canonical state.
func (b *Bridge) State(id string) (FanState, bool) {
	return b.reconciler.Snapshot(id)
}

// Devices returns the running fans sorted by ID.
func (b *Bridge) Devices() []DeviceStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]DeviceStatus, 0, len(b.devices))
	for _, id := range slices.Sorted(maps.Keys(b.devices)) {
		dev := b.devices[id]
		stats := dev.conn.Stats()
		out = append(out, DeviceStatus{
			ID:         id,
			Identity:   dev.cfg.Identity(),
			Address:    dev.conn.cfg.Address(),
			State:      stats.State.String(),
			Connection: stats,
		})
	}
	return out
}

// DeviceCount returns the number of running fans.
func (b *Bridge) DeviceCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.devices)
}

// HealthSnapshot implements HealthSource.
func (b *Bridge) HealthSnapshot() (managed, connected int, stats BridgeStatistics) {
	b.mu.RLock()
	managed = len(b.devices)
	for _, dev := range b.devices {
		if dev.conn.IsConnected() {
			connected++
		}
	}
	b.mu.RUnlock()

	rs := b.reconciler.Stats()
	stats = BridgeStatistics{
		FramesProcessed:  rs.FramesProcessed,
		Duplicates:       rs.Duplicates,
		Changes:          rs.Changes,
		Reinits:          rs.Reinits,
		QueueDepth:       b.queue.Len(),
		QueueAccepted:    b.queue.Pushed(),
		QueueDropped:     b.queue.Dropped(),
		CommandsReceived: b.commandsRx.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
	}
	if b.listener != nil {
		stats.DatagramsReceived = b.listener.Received()
	}
	return managed, connected, stats
}

// RepublishState publishes every known value again as retained state,
// e.g. after the MQTT session was re-established.
func (b *Bridge) RepublishState() {
	b.mu.RLock()
	ids := slices.Sorted(maps.Keys(b.devices))
	b.mu.RUnlock()

	for _, id := range ids {
		state, ok := b.reconciler.Snapshot(id)
		if !ok {
			continue
		}
		for attr, value := range state.Values {
			b.publishState(id, attr, value, state.UpdatedAt)
		}
		if state.Summary != Unknown {
			b.publishState(id, AttrStatus, state.Summary, state.UpdatedAt)
		}
	}
}

// resolveDevice maps the device token of a datagram to a running fan.
func (b *Bridge) resolveDevice(token string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, dev := range b.devices {
		if strings.EqualFold(token, dev.cfg.Name) || (dev.cfg.LearnedID != "" && strings.EqualFold(token, dev.cfg.LearnedID)) {
			return id, true
		}
	}
	return "", false
}

// handleMQTTMessage receives senseme/command/{fan_id}. Commands run on
// their own goroutine so a confirmation wait does not hold up the MQTT
// client's delivery.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	fanID, ok := mqtt.FanIDFromTopic(topic)
	if !ok {
		b.logWarn("ignoring message on unexpected topic", "topic", topic)
		return
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logWarn("failed to parse command", "topic", topic, "error", err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = fanID
	}
	if cmd.Source == "" {
		cmd.Source = "mqtt"
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handleCommand(cmd)
	}()
}

func (b *Bridge) handleCommand(cmd CommandMessage) {
	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command,
		"source", cmd.Source)

	status, err := b.Execute(b.ctx, cmd.DeviceID, CommandRequest{
		Command:   cmd.Command,
		Value:     cmd.Value,
		Raw:       cmd.Raw,
		Predicate: cmd.Predicate,
		Confirm:   cmd.Confirm,
	})

	ack := NewAckMessage(cmd, status)
	if err != nil {
		ack = NewAckError(cmd, err)
		b.logWarn("command failed", "command_id", cmd.ID, "device_id", cmd.DeviceID, "error", err)
	}
	b.publishJSON(mqtt.Topics{}.Ack(cmd.DeviceID), ack, false)
}

func (b *Bridge) publishState(id string, attr Attribute, value string, at time.Time) {
	b.publishJSON(mqtt.Topics{}.State(id, string(attr)), StateMessage{
		DeviceID:  id,
		Attribute: attr,
		Value:     value,
		Timestamp: at.UTC(),
	}, true)
}

func (b *Bridge) publishJSON(topic string, msg any, retained bool) {
	if b.opts.MQTT == nil || !b.opts.MQTT.IsConnected() {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal message", "topic", topic, "error", err)
		return
	}
	if err := b.opts.MQTT.Publish(topic, payload, 1, retained); err != nil {
		b.logWarn("failed to publish", "topic", topic, "error", err)
	}
}

// statePublisher is the reconciler's sink: retained state and events on
// MQTT, then every observer.
type statePublisher struct {
	b *Bridge
}

func (p *statePublisher) Publish(id string, attr Attribute, value string, notify bool) {
	now := p.b.clock.Now()
	p.b.logDebug("fan state changed", "device_id", id, "attribute", string(attr), "value", value, "notify", notify)

	p.b.publishState(id, attr, value, now)
	if notify {
		p.b.publishJSON(mqtt.Topics{}.Event(id), EventMessage{
			DeviceID:  id,
			Attribute: attr,
			Value:     value,
			Timestamp: now.UTC(),
		}, false)
	}

	change := StateChange{DeviceID: id, Attribute: attr, Value: value, Notify: notify, Timestamp: now}
	for _, o := range p.b.opts.Observers {
		o.ObserveState(change)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Error(msg, keysAndValues...)
	}
}
