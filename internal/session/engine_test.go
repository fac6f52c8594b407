package session

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brewtap/pillsync/internal/meadtools"
	"github.com/brewtap/pillsync/internal/ringchan"
)

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) EnsureLoggedIn(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSyncer) ResolveHydrometer(ctx context.Context, name string) (int64, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSyncer) ResolveBrew(ctx context.Context, brewName string, hydrometerID int64) (int64, error) {
	args := m.Called(ctx, brewName, hydrometerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSyncer) LinkRecipe(ctx context.Context, brewID int64, recipeID int) error {
	return m.Called(ctx, brewID, recipeID).Error(0)
}

func (m *mockSyncer) EndBrew(ctx context.Context, hydrometerID, brewID int64) error {
	return m.Called(ctx, hydrometerID, brewID).Error(0)
}

func (m *mockSyncer) PublishDataPoint(ctx context.Context, dp meadtools.DataPoint) error {
	return m.Called(ctx, dp).Error(0)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// advPayload builds a well-formed version-2 advertisement with the given
// raw gravity (specific gravity x1000).
func advPayload(gravityRaw float32) []byte {
	b := []byte{'P', 'T', 2, 0, 1}
	b = binary.BigEndian.AppendUint32(b, math.Float32bits(-0.25)) // velocity
	b = binary.BigEndian.AppendUint16(b, 37523)                   // 20.00C
	b = binary.BigEndian.AppendUint32(b, math.Float32bits(gravityRaw))
	b = binary.BigEndian.AppendUint16(b, 16)     // x
	b = binary.BigEndian.AppendUint16(b, 32)     // y
	b = binary.BigEndian.AppendUint16(b, 48)     // z
	b = binary.BigEndian.AppendUint16(b, 25600)  // full battery
	return b
}

func localConfig() Config {
	return Config{
		BrewName:     "Cyser",
		PillName:     "Cellar Pill",
		MacAddress:   "AA:BB:CC:DD:EE:FF",
		PollInterval: 30 * time.Second,
		Celsius:      true,
		SyncEnabled:  false,
	}
}

func remoteConfig() Config {
	cfg := localConfig()
	cfg.SyncEnabled = true
	return cfg
}

func TestStartLocalOnlyOnAuthFailure(t *testing.T) {
	syncer := &mockSyncer{}
	syncer.On("EnsureLoggedIn", mock.Anything).Return(&meadtools.AuthError{Op: "login", Status: 401})

	eng := NewEngine(remoteConfig(), syncer, quietLogger(), nil)
	require.NoError(t, eng.Start(context.Background()))
	defer func() { _ = eng.Stop() }()

	assert.Equal(t, StateRunning, eng.State())
	assert.False(t, eng.RemoteSyncActive())
	syncer.AssertExpectations(t)
	syncer.AssertNotCalled(t, "ResolveHydrometer", mock.Anything, mock.Anything)
}

func TestStartLocalOnlyWhenNotConfigured(t *testing.T) {
	syncer := &mockSyncer{}
	syncer.On("EnsureLoggedIn", mock.Anything).Return(meadtools.ErrNotConfigured)

	eng := NewEngine(remoteConfig(), syncer, quietLogger(), nil)
	require.NoError(t, eng.Start(context.Background()))
	defer func() { _ = eng.Stop() }()

	assert.Equal(t, StateRunning, eng.State())
	assert.False(t, eng.RemoteSyncActive())
}

func TestStartFatalOnTransportFailure(t *testing.T) {
	syncer := &mockSyncer{}
	syncer.On("EnsureLoggedIn", mock.Anything).Return(&meadtools.RemoteError{Op: "login", Err: errors.New("connection refused")})

	eng := NewEngine(remoteConfig(), syncer, quietLogger(), nil)
	err := eng.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateCreated, eng.State())
}

func TestStartFatalOnRegistrationFailure(t *testing.T) {
	syncer := &mockSyncer{}
	syncer.On("EnsureLoggedIn", mock.Anything).Return(nil)
	syncer.On("ResolveHydrometer", mock.Anything, "Cellar Pill").Return(int64(0), &meadtools.StatusError{Op: "list hydrometers", Status: 500})

	eng := NewEngine(remoteConfig(), syncer, quietLogger(), nil)
	require.Error(t, eng.Start(context.Background()))
	assert.Equal(t, StateCreated, eng.State())
}

func TestStartResolvesRemoteIdentity(t *testing.T) {
	cfg := remoteConfig()
	cfg.RecipeID = 9

	syncer := &mockSyncer{}
	syncer.On("EnsureLoggedIn", mock.Anything).Return(nil)
	syncer.On("ResolveHydrometer", mock.Anything, "Cellar Pill").Return(int64(7), nil)
	syncer.On("ResolveBrew", mock.Anything, "Cyser", int64(7)).Return(int64(42), nil)
	syncer.On("LinkRecipe", mock.Anything, int64(42), 9).Return(nil)
	syncer.On("EndBrew", mock.Anything, int64(7), int64(42)).Return(nil)

	eng := NewEngine(cfg, syncer, quietLogger(), nil)
	require.NoError(t, eng.Start(context.Background()))
	assert.Equal(t, StateRunning, eng.State())
	assert.True(t, eng.RemoteSyncActive())

	require.NoError(t, eng.Stop())
	assert.Equal(t, StateStopped, eng.State())
	syncer.AssertExpectations(t)
}

func TestNoRecipeLinkWhenUnconfigured(t *testing.T) {
	syncer := &mockSyncer{}
	syncer.On("EnsureLoggedIn", mock.Anything).Return(nil)
	syncer.On("ResolveHydrometer", mock.Anything, mock.Anything).Return(int64(7), nil)
	syncer.On("ResolveBrew", mock.Anything, mock.Anything, mock.Anything).Return(int64(42), nil)
	syncer.On("EndBrew", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cfg := remoteConfig()
	cfg.RecipeID = -1
	eng := NewEngine(cfg, syncer, quietLogger(), nil)
	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.Stop())

	syncer.AssertNotCalled(t, "LinkRecipe", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecipeLinkFailureIsFatal(t *testing.T) {
	cfg := remoteConfig()
	cfg.RecipeID = 9

	syncer := &mockSyncer{}
	syncer.On("EnsureLoggedIn", mock.Anything).Return(nil)
	syncer.On("ResolveHydrometer", mock.Anything, mock.Anything).Return(int64(7), nil)
	syncer.On("ResolveBrew", mock.Anything, mock.Anything, mock.Anything).Return(int64(42), nil)
	syncer.On("LinkRecipe", mock.Anything, int64(42), 9).Return(&meadtools.StatusError{Op: "link recipe", Status: 404})

	eng := NewEngine(cfg, syncer, quietLogger(), nil)
	require.Error(t, eng.Start(context.Background()))
	assert.Equal(t, StateCreated, eng.State())
}

func TestFirstSampleWinsCalibration(t *testing.T) {
	eng := NewEngine(localConfig(), nil, quietLogger(), nil)
	require.NoError(t, eng.Start(context.Background()))
	defer func() { _ = eng.Stop() }()

	eng.OnAdvertisement(advPayload(1050))
	require.Eventually(t, func() bool {
		return eng.Telemetry().CurrentGravity == 1.05
	}, time.Second, 5*time.Millisecond)

	eng.OnAdvertisement(advPayload(1010))
	require.Eventually(t, func() bool {
		return eng.Telemetry().CurrentGravity == 1.01
	}, time.Second, 5*time.Millisecond)

	tel := eng.Telemetry()
	assert.Equal(t, 1.05, tel.StartingGravity)
	assert.Equal(t, 5.25, tel.ABV) // (1.05-1.01)*131.25
	assert.Equal(t, 20.0, tel.Temperature)
	assert.Equal(t, "C", tel.TempUnit)
	assert.Equal(t, 100, tel.Battery)
	assert.Equal(t, 2, tel.APIVersion)
	assert.Equal(t, 1.0, tel.X)
	assert.NotEmpty(t, tel.LastEvent)
}

func TestMalformedAdvertisementIsCountedNotFatal(t *testing.T) {
	eng := NewEngine(localConfig(), nil, quietLogger(), nil)
	require.NoError(t, eng.Start(context.Background()))
	defer func() { _ = eng.Stop() }()

	eng.OnAdvertisement([]byte("garbage"))
	eng.OnAdvertisement(advPayload(1048))

	require.Eventually(t, func() bool {
		return eng.Telemetry().CurrentGravity == 1.048
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, eng.State())
	assert.Equal(t, int64(1), eng.QueueMetrics().Errors)
}

func TestPublishRateLimit(t *testing.T) {
	syncer := &mockSyncer{}
	syncer.On("PublishDataPoint", mock.Anything, mock.Anything).Return(nil)

	eng := NewEngine(remoteConfig(), syncer, quietLogger(), nil)
	eng.state.Store(int32(StateRunning))
	eng.remote.Store(true)

	clock := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	eng.now = func() time.Time { return clock }

	queue := ringchan.New[[]byte](advQueueCapacity)
	// a burst of advertisements inside the 5s window publishes once
	eng.process(context.Background(), queue, advPayload(1050))
	clock = clock.Add(time.Second)
	eng.process(context.Background(), queue, advPayload(1049))
	clock = clock.Add(time.Second)
	eng.process(context.Background(), queue, advPayload(1048))

	syncer.AssertNumberOfCalls(t, "PublishDataPoint", 1)
	// telemetry still tracks the latest advertisement
	assert.Equal(t, 1.048, eng.Telemetry().CurrentGravity)

	// once the window elapses the next advertisement publishes again
	clock = clock.Add(5 * time.Second)
	eng.process(context.Background(), queue, advPayload(1047))
	syncer.AssertNumberOfCalls(t, "PublishDataPoint", 2)
}

func TestNoPublishInLocalOnlyMode(t *testing.T) {
	syncer := &mockSyncer{}
	syncer.On("EnsureLoggedIn", mock.Anything).Return(&meadtools.AuthError{Op: "login", Status: 401})

	eng := NewEngine(remoteConfig(), syncer, quietLogger(), nil)
	require.NoError(t, eng.Start(context.Background()))
	defer func() { _ = eng.Stop() }()

	eng.OnAdvertisement(advPayload(1050))
	require.Eventually(t, func() bool {
		return eng.Telemetry().CurrentGravity == 1.05
	}, time.Second, 5*time.Millisecond)

	syncer.AssertNotCalled(t, "PublishDataPoint", mock.Anything, mock.Anything)
}

func TestAdvertisementAfterStopIsNoOp(t *testing.T) {
	eng := NewEngine(localConfig(), nil, quietLogger(), nil)
	require.NoError(t, eng.Start(context.Background()))

	eng.OnAdvertisement(advPayload(1050))
	require.Eventually(t, func() bool {
		return eng.Telemetry().CurrentGravity == 1.05
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, eng.Stop())

	eng.OnAdvertisement(advPayload(1010))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1.05, eng.Telemetry().CurrentGravity)
}

func TestEndBrewFailureDoesNotBlockStop(t *testing.T) {
	syncer := &mockSyncer{}
	syncer.On("EnsureLoggedIn", mock.Anything).Return(nil)
	syncer.On("ResolveHydrometer", mock.Anything, mock.Anything).Return(int64(7), nil)
	syncer.On("ResolveBrew", mock.Anything, mock.Anything, mock.Anything).Return(int64(42), nil)
	syncer.On("EndBrew", mock.Anything, int64(7), int64(42)).Return(&meadtools.StatusError{Op: "end brew", Status: 500})

	var messages []string
	eng := NewEngine(remoteConfig(), syncer, quietLogger(), func(msg string) { messages = append(messages, msg) })
	require.NoError(t, eng.Start(context.Background()))

	assert.NoError(t, eng.Stop())
	assert.Equal(t, StateStopped, eng.State())
	assert.NotEmpty(t, messages)
}

func TestRestartAfterStop(t *testing.T) {
	eng := NewEngine(localConfig(), nil, quietLogger(), nil)

	require.NoError(t, eng.Start(context.Background()))
	eng.OnAdvertisement(advPayload(1050))
	require.Eventually(t, func() bool {
		return eng.Telemetry().CurrentGravity == 1.05
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, eng.Stop())
	require.NoError(t, eng.Start(context.Background()))
	defer func() { _ = eng.Stop() }()

	assert.Equal(t, StateRunning, eng.State())

	// the calibration anchor survives the restart
	eng.OnAdvertisement(advPayload(1010))
	require.Eventually(t, func() bool {
		return eng.Telemetry().CurrentGravity == 1.01
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.05, eng.Telemetry().StartingGravity)
}

func TestStartWhileRunningFails(t *testing.T) {
	eng := NewEngine(localConfig(), nil, quietLogger(), nil)
	require.NoError(t, eng.Start(context.Background()))
	defer func() { _ = eng.Stop() }()

	assert.Error(t, eng.Start(context.Background()))
}

func TestStopWhileCreatedFails(t *testing.T) {
	eng := NewEngine(localConfig(), nil, quietLogger(), nil)
	assert.Error(t, eng.Stop())
}
