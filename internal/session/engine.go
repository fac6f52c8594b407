// Package session owns the lifecycle of tracked RAPT Pill devices: one
// engine per pill drives remote registration, consumes decoded
// advertisements, and publishes telemetry; a registry routes incoming
// advertisements to the right engine by device address.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brewtap/pillsync/internal/groutine"
	"github.com/brewtap/pillsync/internal/meadtools"
	"github.com/brewtap/pillsync/internal/rapt"
	"github.com/brewtap/pillsync/internal/ringchan"
)

// State is the lifecycle state of one session engine.
type State int32

const (
	StateCreated State = iota
	StateInitializing
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Config describes one tracked pill. It is a read-only snapshot taken from
// the persisted configuration when the session is added.
type Config struct {
	BrewName     string
	PillName     string
	MacAddress   string
	PollInterval time.Duration
	Celsius      bool
	RecipeID     int
	SyncEnabled  bool
}

// DisplayName is the name used for hydrometer matching and publication,
// falling back to the MAC address when no pill name is configured.
func (c Config) DisplayName() string {
	if c.PillName != "" {
		return c.PillName
	}
	return c.MacAddress
}

// StatusFunc receives human-readable session status lines. The presentation
// layer owns where they end up.
type StatusFunc func(message string)

const (
	// minPublishInterval throttles publication regardless of how often the
	// pill advertises; the ingest endpoint is not built for more.
	minPublishInterval = 5 * time.Second

	// stopRemoteTimeout bounds the end-brew call so teardown is never
	// hostage to network health.
	stopRemoteTimeout = 5 * time.Second

	advQueueCapacity = 16
)

// Engine runs one tracked session. Lifecycle commands (Start, Stop) come
// from the owning caller; advertisements arrive concurrently through
// OnAdvertisement and are serialized through the engine's own run goroutine.
type Engine struct {
	cfg    Config
	sync   Syncer
	logger *logrus.Entry
	status StatusFunc

	state  atomic.Int32
	remote atomic.Bool // false once the session degraded to local-only

	mu           sync.Mutex
	calibration  Calibration
	telemetry    Telemetry
	lastPublish  time.Time
	hydrometerID int64
	brewID       int64
	advs         *ringchan.RingChannel[[]byte]
	cancel       context.CancelFunc
	done         chan struct{}

	now func() time.Time
}

// NewEngine creates an engine in the Created state.
func NewEngine(cfg Config, syncer Syncer, logger *logrus.Logger, status StatusFunc) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if status == nil {
		status = func(string) {}
	}
	return &Engine{
		cfg:    cfg,
		sync:   syncer,
		logger: logger.WithFields(logrus.Fields{"session": cfg.BrewName, "address": cfg.MacAddress}),
		status: status,
		now:    time.Now,
	}
}

// Config returns the session's configuration snapshot.
func (e *Engine) Config() Config {
	return e.cfg
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// RemoteSyncActive reports whether the session publishes to the remote
// service, as opposed to local-only capture.
func (e *Engine) RemoteSyncActive() bool {
	return e.remote.Load()
}

// Telemetry returns the latest observed telemetry.
func (e *Engine) Telemetry() Telemetry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.telemetry
}

// QueueMetrics returns counters for the advertisement mailbox, including the
// number of malformed frames dropped.
func (e *Engine) QueueMetrics() ringchan.Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.advs == nil {
		return ringchan.Metrics{}
	}
	return e.advs.GetMetrics()
}

// Start transitions the session from Created or Stopped through Initializing
// to Running. Remote setup failures caused by rejected or missing credentials
// degrade the session to local-only capture; transport and registration
// failures abort the start and leave the session in its previous state.
func (e *Engine) Start(ctx context.Context) error {
	prev := e.State()
	if prev != StateCreated && prev != StateStopped {
		return fmt.Errorf("session %q: cannot start while %s", e.cfg.BrewName, prev)
	}
	e.state.Store(int32(StateInitializing))
	e.remote.Store(false)
	e.logger.Info("Starting session")

	if e.cfg.SyncEnabled {
		if err := e.initRemote(ctx); err != nil {
			e.state.Store(int32(prev))
			return fmt.Errorf("session %q: remote setup failed: %w", e.cfg.BrewName, err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	advs := ringchan.New[[]byte](advQueueCapacity)
	done := make(chan struct{})

	e.mu.Lock()
	e.advs = advs
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	groutine.Go(runCtx, "session-"+e.cfg.BrewName, func(ctx context.Context) {
		defer close(done)
		e.run(ctx, advs)
	})

	e.state.Store(int32(StateRunning))
	e.logger.WithField("remote_sync", e.remote.Load()).Info("Session running")
	return nil
}

// initRemote resolves the session's remote identity: login, hydrometer,
// brew, and the optional recipe link.
func (e *Engine) initRemote(ctx context.Context) error {
	if err := e.sync.EnsureLoggedIn(ctx); err != nil {
		if meadtools.IsAuthFailure(err) {
			e.logger.WithError(err).Warn("Remote login failed, continuing in local-only mode")
			e.reportStatus(fmt.Sprintf("%s: not logged in to MeadTools, capturing locally only", e.cfg.BrewName))
			return nil
		}
		return err
	}

	hydrometerID, err := e.sync.ResolveHydrometer(ctx, e.cfg.DisplayName())
	if err != nil {
		return err
	}
	brewID, err := e.sync.ResolveBrew(ctx, e.cfg.BrewName, hydrometerID)
	if err != nil {
		return err
	}
	if e.cfg.RecipeID > 0 {
		if err := e.sync.LinkRecipe(ctx, brewID, e.cfg.RecipeID); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.hydrometerID = hydrometerID
	e.brewID = brewID
	e.mu.Unlock()
	e.remote.Store(true)
	return nil
}

// OnAdvertisement enqueues one raw advertisement payload for processing.
// Safe to call concurrently with lifecycle transitions; after Stop it is a
// no-op.
func (e *Engine) OnAdvertisement(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() != StateRunning || e.advs == nil {
		return
	}
	e.advs.ForceSend(append([]byte(nil), data...))
}

// Stop transitions Running to Stopped, ends the brew remotely when sync is
// active, and returns once the run goroutine has drained. An end-brew
// failure is reported but never blocks the local stop.
func (e *Engine) Stop() error {
	if !e.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		return fmt.Errorf("session %q is not running", e.cfg.BrewName)
	}
	e.logger.Info("Stopping session")

	e.mu.Lock()
	if e.advs != nil {
		e.advs.Close()
		e.advs = nil
	}
	cancel := e.cancel
	done := e.done
	hydrometerID := e.hydrometerID
	brewID := e.brewID
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(stopRemoteTimeout):
			e.logger.Warn("Run loop did not drain in time")
		}
	}

	if e.remote.Load() && hydrometerID != 0 && brewID != 0 {
		ctx, cancelEnd := context.WithTimeout(context.Background(), stopRemoteTimeout)
		defer cancelEnd()
		if err := e.sync.EndBrew(ctx, hydrometerID, brewID); err != nil {
			e.logger.WithError(err).Warn("Failed to end brew remotely")
			e.reportStatus(fmt.Sprintf("%s: stopped locally, but ending the brew remotely failed", e.cfg.BrewName))
		} else {
			e.reportStatus(fmt.Sprintf("%s: brew ended", e.cfg.BrewName))
		}
	}

	e.logger.Info("Session stopped")
	return nil
}

func (e *Engine) run(ctx context.Context, advs *ringchan.RingChannel[[]byte]) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-advs.C():
			if !ok {
				return
			}
			e.process(ctx, advs, data)
		}
	}
}

// process decodes one advertisement, updates telemetry, and publishes when
// the rate limiter allows. A malformed frame is counted and dropped.
func (e *Engine) process(ctx context.Context, advs *ringchan.RingChannel[[]byte], data []byte) {
	m, err := rapt.Decode(data)
	if err != nil {
		advs.AddError()
		e.logger.WithError(err).Debug("Dropping malformed advertisement")
		return
	}
	if e.State() != StateRunning {
		return
	}

	gravity := rapt.Gravity(m.GravityRaw)
	temperature := rapt.TemperatureCelsius(m.TemperatureRaw)
	unit := "C"
	if !e.cfg.Celsius {
		temperature = rapt.TemperatureFahrenheit(m.TemperatureRaw)
		unit = "F"
	}

	now := e.now()

	e.mu.Lock()
	e.calibration.Calibrate(gravity)
	starting, _ := e.calibration.Value()
	tel := Telemetry{
		APIVersion:      int(m.Version),
		GravityVelocity: m.GravityVelocity,
		StartingGravity: starting,
		CurrentGravity:  gravity,
		ABV:             rapt.ABV(starting, gravity),
		Temperature:     temperature,
		TempUnit:        unit,
		Battery:         rapt.BatteryPercent(m.BatteryRaw),
		X:               rapt.Accel(m.X),
		Y:               rapt.Accel(m.Y),
		Z:               rapt.Accel(m.Z),
		LastEvent:       now.UTC().Format("2006-01-02T15:04:05Z"),
	}
	e.telemetry = tel

	publish := false
	if e.remote.Load() && now.Sub(e.lastPublish) >= minPublishInterval {
		e.lastPublish = now
		publish = true
	}
	e.mu.Unlock()

	if !publish {
		return
	}

	dp := meadtools.DataPoint{
		Name:        e.cfg.DisplayName(),
		Gravity:     tel.CurrentGravity,
		Temperature: tel.Temperature,
		TempUnit:    tel.TempUnit,
		Battery:     tel.Battery,
	}
	if err := e.sync.PublishDataPoint(ctx, dp); err != nil {
		e.logger.WithError(err).Warn("Failed to publish data point")
		e.reportStatus(fmt.Sprintf("%s: publish failed: %v", e.cfg.BrewName, err))
		return
	}
	e.reportStatus(fmt.Sprintf("%s: logged SG:%v Temp:%v%s ~ABV:%v", e.cfg.BrewName, tel.CurrentGravity, tel.Temperature, tel.TempUnit, tel.ABV))
}

func (e *Engine) reportStatus(message string) {
	e.status(message)
}
