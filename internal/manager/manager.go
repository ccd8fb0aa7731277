package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/miot-core/internal/device"
	"github.com/nerrad567/miot-core/internal/infrastructure/config"
	"github.com/nerrad567/miot-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/miot-core/internal/miot/engine"
	"github.com/nerrad567/miot-core/internal/miot/spec"
	"github.com/nerrad567/miot-core/internal/transport/local"
)

// Logger is the minimal logging surface the manager needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SpecSource resolves a device model to its parsed capability spec.
// Implemented by *spec.Fetcher.
type SpecSource interface {
	Fetch(ctx context.Context, model string) (*spec.Document, error)
}

// MQTTClient is the broker surface the manager uses. Satisfied by
// *mqtt.Client; nil disables the MQTT bridge.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// MetricsWriter receives telemetry points. Satisfied by
// *influxdb.Client; nil disables metrics.
type MetricsWriter interface {
	WriteDeviceMetric(deviceID string, measurement string, value float64)
	WriteAvailability(deviceID string, online bool)
}

// Registry persists device records for API listings. Satisfied by
// *device.SQLiteRepository; nil disables persistence.
type Registry interface {
	Upsert(ctx context.Context, rec *device.Record) error
	Prune(ctx context.Context, keep []string) (int, error)
}

// localTransport is what the local dialer must produce: a session
// transport that can release its socket on shutdown.
type localTransport interface {
	engine.Transport
	Close() error
}

// Options holds the collaborators for creating a manager.
type Options struct {
	// Config is the loaded application configuration.
	Config *config.Config

	// Specs resolves device models to capability specs.
	Specs SpecSource

	// Registry is the optional device registry.
	Registry Registry

	// MQTT is the optional broker client for the state/command bridge.
	MQTT MQTTClient

	// Metrics is the optional telemetry sink.
	Metrics MetricsWriter

	// CloudTransport is the shared, authenticated cloud client. Required
	// only when a device is configured with mode "cloud".
	CloudTransport engine.Transport

	// Logger is optional; nil logs nothing.
	Logger Logger
}

// managedDevice pairs a running session with its wiring.
type managedDevice struct {
	cfg        config.DeviceConfig
	session    *engine.Session
	transport  localTransport // nil for cloud devices
	subToken   string
	coordToken string

	// availMu guards lastAvail, the last availability published to MQTT
	// and InfluxDB. Transitions are published exactly once.
	availMu   sync.Mutex
	lastAvail engine.Availability
}

// Manager owns the device sessions and their fan-out to MQTT, InfluxDB,
// and the registry.
type Manager struct {
	cfg      *config.Config
	specs    SpecSource
	adapter  *spec.Adapter
	registry Registry
	mqtt     MQTTClient
	metrics  MetricsWriter
	log      Logger
	topics   mqtt.Topics

	cloudTransport engine.Transport
	coordinator    *engine.Coordinator

	// newLocal dials the local transport for one device. Overridden in
	// tests.
	newLocal func(cfg local.Config) (localTransport, error)

	mu      sync.RWMutex
	devices map[string]*managedDevice

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a manager. Call Start to bring devices up.
func New(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Specs == nil {
		return nil, fmt.Errorf("spec source is required")
	}

	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}

	adapter := spec.NewAdapter()
	adapter.SetLogger(log)

	m := &Manager{
		cfg:            opts.Config,
		specs:          opts.Specs,
		adapter:        adapter,
		registry:       opts.Registry,
		mqtt:           opts.MQTT,
		metrics:        opts.Metrics,
		log:            log,
		cloudTransport: opts.CloudTransport,
		devices:        make(map[string]*managedDevice),
	}
	m.newLocal = func(cfg local.Config) (localTransport, error) {
		return local.Dial(cfg)
	}

	if opts.CloudTransport != nil {
		interval := time.Duration(opts.Config.Cloud.PollInterval) * time.Second
		m.coordinator = engine.NewCoordinator(opts.CloudTransport, interval, log)
	}

	return m, nil
}

// Start fetches specs, builds sessions, and begins polling.
//
// A device that fails setup (unknown model, unreachable spec service,
// bad token) is logged and skipped so one misconfigured device cannot
// hold the rest down. Start fails only when devices are configured and
// none came up.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())

	keep := make([]string, 0, len(m.cfg.Devices))
	started := 0
	cloudCount := 0

	for _, d := range m.cfg.Devices {
		keep = append(keep, d.DID)
		if err := m.startDevice(ctx, d); err != nil {
			m.log.Error("device setup failed", "did", d.DID, "model", d.Model, "error", err)
			continue
		}
		started++
		if d.Mode == "cloud" {
			cloudCount++
		}
	}

	if m.registry != nil {
		if removed, err := m.registry.Prune(ctx, keep); err != nil {
			m.log.Error("registry prune failed", "error", err)
		} else if removed > 0 {
			m.log.Info("pruned stale registry entries", "count", removed)
		}
	}

	if m.coordinator != nil && cloudCount > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.coordinator.Run(m.ctx)
		}()
	}

	if m.mqtt != nil {
		topic := m.topics.AllDeviceCommands()
		if err := m.mqtt.Subscribe(topic, 1, m.handleCommand); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		m.log.Info("subscribed to commands", "topic", topic)
	}

	if started == 0 && len(m.cfg.Devices) > 0 {
		return ErrNoSessions
	}

	m.log.Info("manager started", "devices", started, "cloud", cloudCount)
	return nil
}

// startDevice brings one configured device up.
func (m *Manager) startDevice(ctx context.Context, d config.DeviceConfig) error {
	doc, err := m.specs.Fetch(ctx, d.Model)
	if err != nil {
		return fmt.Errorf("fetching spec: %w", err)
	}

	res := m.adapter.Adapt(doc, d.Category)
	for _, w := range res.Warnings {
		m.log.Warn("adaption warning", "did", d.DID, "detail", w)
	}
	if res.Empty() {
		return fmt.Errorf("model %s produced no usable mapping", d.Model)
	}

	category := d.Category
	if category == "" && len(res.Categories) > 0 {
		category = res.Categories[0]
	}

	isCloud := d.Mode == "cloud"
	var transport engine.Transport
	var closer localTransport

	if isCloud {
		if m.cloudTransport == nil {
			return ErrCloudUnavailable
		}
		transport = m.cloudTransport
	} else {
		lt, err := m.newLocal(local.Config{
			Host:  d.Host,
			Token: d.Token,
			DID:   d.DID,
		})
		if err != nil {
			return fmt.Errorf("dialing device: %w", err)
		}
		transport = lt
		closer = lt
	}

	sess, err := engine.New(engine.Config{
		DID:              d.DID,
		Mapping:          res.Mapping,
		Params:           res.Params,
		Transport:        transport,
		Cloud:            isCloud,
		PollInterval:     m.cfg.DevicePollInterval(d),
		DebounceMode:     debounceMode(m.cfg.Sync.DebounceMode),
		DebounceDelay:    time.Duration(m.cfg.Sync.DebounceDelay) * time.Second,
		CloudWriteDelay:  time.Duration(m.cfg.Sync.CloudWriteDelay) * time.Second,
		FailureThreshold: m.cfg.Sync.FailureThreshold,
		Logger:           m.log,
	})
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return fmt.Errorf("creating session: %w", err)
	}

	md := &managedDevice{
		cfg:       d,
		session:   sess,
		transport: closer,
	}
	md.subToken = sess.Subscribe(func(ev engine.Event) {
		m.handleEvent(md, ev)
	})

	if isCloud {
		token, err := m.coordinator.Register(d.DID, sess.Requests(), sess)
		if err != nil {
			sess.Unsubscribe(md.subToken)
			sess.Stop()
			return fmt.Errorf("registering with coordinator: %w", err)
		}
		md.coordToken = token
	} else {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			sess.Run(m.ctx)
		}()
	}

	m.mu.Lock()
	m.devices[d.DID] = md
	m.mu.Unlock()

	if m.registry != nil {
		rec := &device.Record{
			DID:      d.DID,
			Name:     d.Name,
			Model:    d.Model,
			Category: category,
			Mode:     modeOrDefault(d.Mode),
		}
		if err := m.registry.Upsert(ctx, rec); err != nil {
			m.log.Error("registry upsert failed", "did", d.DID, "error", err)
		}
	}

	m.log.Info("device session started",
		"did", d.DID,
		"model", d.Model,
		"mode", modeOrDefault(d.Mode),
		"properties", res.Mapping.Len())

	return nil
}

// Stop tears down all sessions and waits for their goroutines.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}

		m.mu.Lock()
		devices := m.devices
		m.devices = make(map[string]*managedDevice)
		m.mu.Unlock()

		for _, md := range devices {
			md.session.Unsubscribe(md.subToken)
			if md.coordToken != "" && m.coordinator != nil {
				m.coordinator.Deregister(md.coordToken)
			}
			md.session.Stop()
			if md.transport != nil {
				if err := md.transport.Close(); err != nil {
					m.log.Debug("transport close failed", "did", md.cfg.DID, "error", err)
				}
			}
		}

		if m.coordinator != nil {
			m.coordinator.Stop()
		}

		m.wg.Wait()
		m.log.Info("manager stopped")
	})
}

// Session returns the running session for a device.
func (m *Manager) Session(did string) (*engine.Session, error) {
	m.mu.RLock()
	md, ok := m.devices[did]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, did)
	}
	return md.session, nil
}

// DIDs returns the identifiers of all running sessions, sorted.
func (m *Manager) DIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dids := make([]string, 0, len(m.devices))
	for did := range m.devices {
		dids = append(dids, did)
	}
	sort.Strings(dids)
	return dids
}

// Snapshots returns the current snapshot of every running session,
// ordered by DID.
func (m *Manager) Snapshots() []engine.Snapshot {
	dids := m.DIDs()
	snaps := make([]engine.Snapshot, 0, len(dids))
	for _, did := range dids {
		sess, err := m.Session(did)
		if err != nil {
			continue
		}
		snaps = append(snaps, sess.Snapshot())
	}
	return snaps
}

// debounceMode maps the config string to the engine constant.
func debounceMode(mode string) engine.DebounceMode {
	if mode == "delay" {
		return engine.DebounceDelay
	}
	return engine.DebounceSkip
}

// modeOrDefault normalizes an empty device mode to "local".
func modeOrDefault(mode string) string {
	if mode == "" {
		return "local"
	}
	return mode
}
