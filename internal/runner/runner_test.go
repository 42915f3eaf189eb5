package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bueste/switchbackup/internal/audit"
	"github.com/bueste/switchbackup/internal/backup"
	"github.com/bueste/switchbackup/internal/harvest"
	"github.com/bueste/switchbackup/internal/metrics"
	"github.com/bueste/switchbackup/internal/notify"
	"github.com/bueste/switchbackup/internal/transport"
	"github.com/bueste/switchbackup/pkg/models"
)

// MockDialer is a mock implementation of transport.Dialer
type MockDialer struct {
	mock.Mock
}

func (m *MockDialer) Open(ctx context.Context, profile models.DeviceProfile) (transport.Session, error) {
	args := m.Called(ctx, profile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(transport.Session), args.Error(1)
}

// MockNotifier is a mock implementation of notify.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, alert notify.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// MockApplier is a mock implementation of Applier
type MockApplier struct {
	mock.Mock
}

func (m *MockApplier) Apply(ctx context.Context, profile models.DeviceProfile, result *models.HarvestResult) (*backup.ApplyResult, error) {
	args := m.Called(ctx, profile, result)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backup.ApplyResult), args.Error(1)
}

// MockHarvester is a mock implementation of Harvester
type MockHarvester struct {
	mock.Mock
}

func (m *MockHarvester) Harvest(ctx context.Context, session transport.Session, profile models.DeviceProfile) (*models.HarvestResult, error) {
	args := m.Called(ctx, session, profile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.HarvestResult), args.Error(1)
}

// replaySession answers every Receive with the same output
type replaySession struct {
	output string
	sent   []string
	closed bool
}

func (s *replaySession) Send(text string) error {
	s.sent = append(s.sent, text)
	return nil
}

func (s *replaySession) Receive(ctx context.Context, maxBytes int) ([]byte, error) {
	return []byte(s.output), nil
}

func (s *replaySession) Close() error {
	s.closed = true
	return nil
}

type testEnv struct {
	dialer   *MockDialer
	notifier *MockNotifier
	store    *backup.Store
	history  *audit.InMemoryRepository
	metrics  *metrics.Metrics
	logs     *observer.ObservedLogs
	logger   *zap.Logger
}

func createEnv(t *testing.T) *testEnv {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	return &testEnv{
		dialer:   new(MockDialer),
		notifier: new(MockNotifier),
		store: backup.NewStore(afero.NewMemMapFs(), zap.NewNop(), "/backups").WithClock(func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		}),
		history: audit.NewInMemoryRepository(0),
		metrics: metrics.New(),
		logs:    logs,
		logger:  zap.New(core),
	}
}

func (env *testEnv) runner(t *testing.T, harvester Harvester, cfg *Config) *Runner {
	t.Helper()
	if harvester == nil {
		h, err := harvest.NewHarvester(zap.NewNop(), nil)
		require.NoError(t, err)
		harvester = h
	}
	return NewRunner(
		env.dialer,
		harvester,
		backup.NewManager(env.store, env.logger),
		env.notifier,
		audit.NewService(env.history, zap.NewNop()),
		env.metrics,
		env.logger,
		cfg,
	)
}

func huawei(alias, host string) models.DeviceProfile {
	return models.DeviceProfile{
		Host: host, Port: 22, Username: "admin", Password: "pw",
		Alias: alias, Vendor: models.VendorHuawei, RetentionCount: 3,
	}
}

func cisco(alias, host string) models.DeviceProfile {
	return models.DeviceProfile{
		Host: host, Port: models.DefaultCiscoPort, Username: "admin", Password: "pw",
		Alias: alias, Vendor: models.VendorCisco, RetentionCount: 3,
	}
}

func TestRun_SavesEachDevice(t *testing.T) {
	env := createEnv(t)
	sw1, sw2 := huawei("sw1", "10.0.0.1"), huawei("sw2", "10.0.0.2")
	s1 := &replaySession{output: "sysname sw1\nreturn\n"}
	s2 := &replaySession{output: "sysname sw2\nreturn\n"}
	env.dialer.On("Open", mock.Anything, sw1).Return(s1, nil)
	env.dialer.On("Open", mock.Anything, sw2).Return(s2, nil)

	summary, err := env.runner(t, nil, nil).Run(context.Background(), []models.DeviceProfile{sw1, sw2})
	require.NoError(t, err)
	require.NoError(t, summary.Err)
	require.Len(t, summary.Records, 2)
	assert.Equal(t, 2, summary.Counts()[models.OutcomeSaved])
	assert.True(t, s1.closed)
	assert.True(t, s2.closed)

	latest, err := env.store.Latest("sw2")
	require.NoError(t, err)
	assert.Equal(t, "sysname sw2\nreturn", latest.Content)

	runs, err := env.history.Recent(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	env.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestRun_UnchangedConfigIsLogged(t *testing.T) {
	env := createEnv(t)
	sw1 := huawei("sw1", "10.0.0.1")
	env.dialer.On("Open", mock.Anything, sw1).Return(&replaySession{output: "sysname sw1\nreturn"}, nil)

	r := env.runner(t, nil, nil)
	for i := 0; i < 2; i++ {
		_, err := r.Run(context.Background(), []models.DeviceProfile{sw1})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, env.logs.FilterMessage("10.0.0.1 config has not changed").Len())
	snaps, err := env.store.List("sw1")
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	runs, err := env.history.Recent(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, models.OutcomeUnchanged, runs[0].Outcome)
}

func TestRun_ConnectFailureNotifiesAndContinues(t *testing.T) {
	env := createEnv(t)
	sw1, sw2 := cisco("sw1", "10.0.0.1"), huawei("sw2", "10.0.0.2")
	env.dialer.On("Open", mock.Anything, sw1).Return(nil, models.ErrAuthRejected)
	env.dialer.On("Open", mock.Anything, sw2).Return(&replaySession{output: "sysname sw2\nreturn"}, nil)
	env.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(a notify.Alert) bool {
		return a.Device.Alias == "sw1" && a.Outcome == models.OutcomeConnectFailed
	})).Return(nil).Once()

	summary, err := env.runner(t, nil, nil).Run(context.Background(), []models.DeviceProfile{sw1, sw2})
	require.NoError(t, err)

	env.notifier.AssertExpectations(t)
	env.notifier.AssertNumberOfCalls(t, "Notify", 1)
	assert.Equal(t, 1, summary.Failed())
	assert.ErrorIs(t, summary.Err, models.ErrConnect)
	assert.Equal(t, models.OutcomeConnectFailed, summary.Records[0].Outcome)
	assert.Equal(t, models.OutcomeSaved, summary.Records[1].Outcome)

	_, err = env.store.Latest("sw1")
	assert.ErrorIs(t, err, models.ErrNoBackup)
}

func TestRun_NotificationFailureIsLogged(t *testing.T) {
	env := createEnv(t)
	sw1 := huawei("sw1", "10.0.0.1")
	env.dialer.On("Open", mock.Anything, sw1).Return(nil, models.ErrConnect)
	env.notifier.On("Notify", mock.Anything, mock.Anything).Return(models.ErrNotifyFailed)

	summary, err := env.runner(t, nil, nil).Run(context.Background(), []models.DeviceProfile{sw1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed())
	assert.Equal(t, 1, env.logs.FilterMessage("failed to send notification").Len())
}

func TestRun_HarvestFailureSkipsStore(t *testing.T) {
	env := createEnv(t)
	sw1 := cisco("sw1", "10.0.0.1")
	session := &replaySession{}
	harvester := new(MockHarvester)
	env.dialer.On("Open", mock.Anything, sw1).Return(session, nil)
	harvester.On("Harvest", mock.Anything, session, sw1).Return(nil, models.ErrHarvestTimeout)

	// an older snapshot must survive a failed pass
	_, err := env.store.Save("sw1", "old config")
	require.NoError(t, err)

	summary, err := env.runner(t, harvester, nil).Run(context.Background(), []models.DeviceProfile{sw1})
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeHarvestFailed, summary.Records[0].Outcome)
	assert.ErrorIs(t, summary.Err, models.ErrHarvestTimeout)
	assert.True(t, session.closed)
	env.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)

	snaps, err := env.store.List("sw1")
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestRun_NotifyAllCoversHarvestFailure(t *testing.T) {
	env := createEnv(t)
	sw1 := cisco("sw1", "10.0.0.1")
	session := &replaySession{}
	harvester := new(MockHarvester)
	env.dialer.On("Open", mock.Anything, sw1).Return(session, nil)
	harvester.On("Harvest", mock.Anything, session, sw1).Return(nil, models.ErrTransportRead)
	env.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(a notify.Alert) bool {
		return a.Outcome == models.OutcomeHarvestFailed && errors.Is(a.Cause, models.ErrTransportRead)
	})).Return(nil).Once()

	_, err := env.runner(t, harvester, &Config{NotifyOn: NotifyOnAll}).Run(context.Background(), []models.DeviceProfile{sw1})
	require.NoError(t, err)
	env.notifier.AssertExpectations(t)
}

func TestRun_NilNotifier(t *testing.T) {
	env := createEnv(t)
	sw1 := huawei("sw1", "10.0.0.1")
	env.dialer.On("Open", mock.Anything, sw1).Return(nil, models.ErrConnect)

	h, err := harvest.NewHarvester(zap.NewNop(), nil)
	require.NoError(t, err)
	r := NewRunner(env.dialer, h, backup.NewManager(env.store, zap.NewNop()), nil, nil, nil, env.logger, nil)

	summary, err := r.Run(context.Background(), []models.DeviceProfile{sw1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed())
	assert.Equal(t, 1, env.logs.FilterMessage("no notifier configured, alert not sent").Len())
}

func TestRun_CancelledBetweenDevices(t *testing.T) {
	env := createEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := env.runner(t, nil, nil).Run(ctx, []models.DeviceProfile{huawei("sw1", "10.0.0.1")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Records)
	env.dialer.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
}

func TestRun_WritesMetricsTextfile(t *testing.T) {
	env := createEnv(t)
	sw1 := huawei("sw1", "10.0.0.1")
	env.dialer.On("Open", mock.Anything, sw1).Return(&replaySession{output: "sysname sw1\nreturn"}, nil)
	path := filepath.Join(t.TempDir(), "switchbackup.prom")

	_, err := env.runner(t, nil, &Config{NotifyOn: NotifyOnConnect, MetricsTextfile: path}).
		Run(context.Background(), []models.DeviceProfile{sw1})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "switchbackup_runs_total 1")
	assert.Contains(t, string(data), `switchbackup_harvests_total{outcome="saved"} 1`)
}

func TestRun_PruneFailureKeepsWrittenSnapshot(t *testing.T) {
	env := createEnv(t)
	sw1 := huawei("sw1", "10.0.0.1")
	env.dialer.On("Open", mock.Anything, sw1).Return(&replaySession{output: "sysname sw1\nreturn"}, nil)

	applier := new(MockApplier)
	written := &models.Snapshot{Alias: "sw1", Name: "2024-03-01_12-01-00-sw1.bak"}
	applier.On("Apply", mock.Anything, sw1, mock.AnythingOfType("*models.HarvestResult")).
		Return(&backup.ApplyResult{Outcome: models.OutcomeSaved, Snapshot: written}, models.ErrStoreIO)

	h, err := harvest.NewHarvester(zap.NewNop(), nil)
	require.NoError(t, err)
	r := NewRunner(env.dialer, h, applier, env.notifier, nil, nil, env.logger, nil)

	summary, err := r.Run(context.Background(), []models.DeviceProfile{sw1})
	require.NoError(t, err)

	record := summary.Records[0]
	assert.Equal(t, models.OutcomeStoreFailed, record.Outcome)
	assert.Equal(t, written.Name, record.Snapshot)
	assert.ErrorIs(t, summary.Err, models.ErrStoreIO)
	applier.AssertExpectations(t)
}
