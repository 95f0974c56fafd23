package booking

import (
	"context"
	"os"
	"path/filepath"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/medtrail/casesync/modules/booking/infrastructure/persistence"
	"github.com/medtrail/casesync/modules/booking/services"
	"github.com/medtrail/casesync/pkg/configuration"
	"github.com/medtrail/casesync/pkg/eventbus"
	"github.com/medtrail/casesync/pkg/offline"
)

// Module wires the whole engine from configuration: backend pool, device
// database, queue, services and event bus. Embedders construct it once,
// Start it, and talk to CaseService while SyncService drains in the
// background.
type Module struct {
	CaseService *services.CaseService
	SyncService *services.SyncService
	Bus         eventbus.EventBus

	pool *pgxpool.Pool
	db   *sqlx.DB
}

func NewModule(ctx context.Context, conf *configuration.Configuration) (*Module, error) {
	logger := conf.Logger()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("module", "booking")

	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		return nil, gerrors.Wrap(err, "booking: open backend pool")
	}

	if dir := filepath.Dir(conf.LocalStore.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			pool.Close()
			return nil, gerrors.Wrap(err, "booking: create local store dir")
		}
	}
	db, err := persistence.OpenLocalDB(conf.LocalStore.Path)
	if err != nil {
		pool.Close()
		return nil, err
	}

	store, err := persistence.NewLocalStore(db)
	if err != nil {
		pool.Close()
		_ = db.Close()
		return nil, err
	}
	queue, err := offline.NewQueue(db, offline.QueueOptions{MaxPending: conf.Sync.MaxPending})
	if err != nil {
		pool.Close()
		_ = db.Close()
		return nil, err
	}

	remote := persistence.NewCaseRepository(pool, conf.Reference.Prefix)
	bus := eventbus.NewEventPublisher(logger)

	syncSvc, err := services.NewSyncService(services.SyncServiceOptions{
		Remote: remote,
		Local:  store,
		Queue:  queue,
		Bus:    bus,
		Logger: log,
		Relay: offline.RelayOptions{
			PollInterval:    conf.Sync.PollInterval,
			BatchSize:       conf.Sync.BatchSize,
			MaxAttempts:     conf.Sync.MaxAttempts,
			MaxBackoff:      conf.Sync.MaxBackoff,
			JitterMax:       conf.Sync.JitterMax,
			DispatchTimeout: conf.Sync.DispatchTimeout,
			Concurrency:     conf.Sync.Concurrency,
			LastErrorMaxLen: conf.Sync.LastErrorMaxBytes,
		},
		Monitor: offline.MonitorOptions{
			ProbeInterval:    conf.Monitor.ProbeInterval,
			ProbeTimeout:     conf.Monitor.ProbeTimeout,
			OfflineThreshold: conf.Monitor.OfflineThreshold,
			OnlineThreshold:  conf.Monitor.OnlineThreshold,
		},
		Cleaner: offline.CleanerOptions{
			Enabled:       conf.Sync.CleanerEnabled,
			Interval:      conf.Sync.CleanerInterval,
			Retention:     conf.Sync.CleanerRetention,
			DeadRetention: conf.Sync.CleanerDeadRetention,
		},
	})
	if err != nil {
		pool.Close()
		_ = db.Close()
		return nil, err
	}

	caseSvc, err := services.NewCaseService(services.CaseServiceOptions{
		Remote:  remote,
		Local:   store,
		Queue:   queue,
		Monitor: syncSvc.Monitor(),
		Relay:   syncSvc.Relay(),
		Bus:     bus,
		Logger:  log,
	})
	if err != nil {
		pool.Close()
		_ = db.Close()
		return nil, err
	}

	return &Module{
		CaseService: caseSvc,
		SyncService: syncSvc,
		Bus:         bus,
		pool:        pool,
		db:          db,
	}, nil
}

func (m *Module) Name() string { return "booking" }

// Start brings up the background sync loops.
func (m *Module) Start() error {
	return m.SyncService.Start()
}

// Shutdown stops the loops and closes both databases.
func (m *Module) Shutdown() {
	m.SyncService.Shutdown()
	_ = m.db.Close()
	m.pool.Close()
}
