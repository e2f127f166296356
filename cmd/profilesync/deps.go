package main

import (
	"context"
	"database/sql"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/reflex/rsql"
	"github.com/redis/go-redis/v9"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/adapters/jlog"
	"github.com/Dipanshu-verma/profilesync/adapters/kafkaqueue"
	"github.com/Dipanshu-verma/profilesync/adapters/memprofilestore"
	"github.com/Dipanshu-verma/profilesync/adapters/memqueue"
	"github.com/Dipanshu-verma/profilesync/adapters/memrolescheduler"
	"github.com/Dipanshu-verma/profilesync/adapters/memrunstore"
	"github.com/Dipanshu-verma/profilesync/adapters/redisqueue"
	"github.com/Dipanshu-verma/profilesync/adapters/redisrolescheduler"
	"github.com/Dipanshu-verma/profilesync/adapters/redisstore"
	"github.com/Dipanshu-verma/profilesync/adapters/sqlite"
	"github.com/Dipanshu-verma/profilesync/adapters/sqlstore"
	"github.com/Dipanshu-verma/profilesync/config"
)

// deps holds the adapters selected by the config.
type deps struct {
	runs     profilesync.RunStore
	profiles profilesync.ProfileStore
	queue    profilesync.TaskQueue
	roles    profilesync.RoleScheduler
	logger   profilesync.Logger

	closers []func() error
}

func buildDeps(ctx context.Context, cfg config.Config) (*deps, error) {
	d := &deps{}

	var rc redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rc = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, rc.Close)

		err := rc.Ping(ctx).Err()
		if err != nil {
			d.close()
			return nil, errors.Wrap(err, "ping redis", j.MKV{"addr": cfg.Redis.Addr})
		}
	}

	err := d.buildStores(cfg, rc)
	if err != nil {
		d.close()
		return nil, err
	}

	switch cfg.Queue.Driver {
	case config.DriverMemory:
		d.queue = memqueue.New()
	case config.DriverRedis:
		d.queue = redisqueue.New(rc)
	case config.DriverKafka:
		d.queue = kafkaqueue.New(cfg.Queue.Brokers, cfg.Queue.Topic)
	}
	d.closers = append(d.closers, d.queue.Close)

	switch cfg.Roles.Driver {
	case config.DriverLocal:
		d.roles = memrolescheduler.New()
	case config.DriverRedis:
		d.roles = redisrolescheduler.New(rc)
	}

	switch cfg.LogFormat {
	case config.LogFormatJettison:
		d.logger = jlog.New()
	default:
		d.logger = profilesync.NewJSONLogger(os.Stdout)
	}

	return d, nil
}

func (d *deps) buildStores(cfg config.Config, rc redis.UniversalClient) error {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		d.runs = memrunstore.New()
		d.profiles = memprofilestore.New()

	case config.DriverMySQL:
		dbc, err := sql.Open("mysql", cfg.Store.DSN)
		if err != nil {
			return errors.Wrap(err, "open mysql")
		}
		d.closers = append(d.closers, dbc.Close)

		var opts []sqlstore.Option
		if cfg.Store.Events {
			opts = append(opts, sqlstore.WithEvents(rsql.NewEventsTable(sqlstore.DefaultEventsTable)))
		}

		d.runs = sqlstore.NewRunStore(dbc, dbc, sqlstore.DefaultRunsTable, opts...)
		d.profiles = sqlstore.NewProfileStore(dbc, dbc, sqlstore.DefaultProfilesTable)

	case config.DriverSQLite:
		dbc, err := openSQLite(cfg.Store.DSN)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, dbc.Close)

		d.runs = sqlite.NewRunStore(dbc)
		d.profiles = sqlite.NewProfileStore(dbc)

	case config.DriverRedis:
		d.runs = redisstore.New(rc)
		d.profiles = memprofilestore.New()
		if cfg.Store.DSN != "" {
			dbc, err := openSQLite(cfg.Store.DSN)
			if err != nil {
				return err
			}
			d.closers = append(d.closers, dbc.Close)

			d.profiles = sqlite.NewProfileStore(dbc)
		}
	}

	return nil
}

func openSQLite(path string) (*sql.DB, error) {
	dbc, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}

	err = sqlite.InitSchema(dbc)
	if err != nil {
		dbc.Close()
		return nil, err
	}

	return dbc, nil
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		// NoReturnErr: Shutting down.
		_ = d.closers[i]()
	}
}

func orchestratorOptions(cfg config.Config, d *deps) []profilesync.Option {
	opts := []profilesync.Option{
		profilesync.WithLogger(d.logger),
		profilesync.WithRoleScheduler(d.roles),
		profilesync.WithDelay(cfg.Saga.Delay),
		profilesync.WithActivityTimeout(cfg.Saga.ActivityTimeout),
		profilesync.WithLeaseGrace(cfg.Saga.LeaseGrace),
		profilesync.WithPollingFrequency(cfg.Saga.PollingFrequency),
		profilesync.WithRecoverySchedule(cfg.Saga.RecoverySchedule),
		profilesync.WithPersistRetryPolicy(cfg.Saga.PersistRetry.Policy()),
		profilesync.WithSyncRetryPolicy(cfg.Saga.SyncRetry.Policy()),
	}
	if cfg.Debug {
		opts = append(opts, profilesync.WithDebugMode())
	}

	return opts
}

func workerOptions(cfg config.Config, d *deps) []profilesync.WorkerOption {
	opts := []profilesync.WorkerOption{
		profilesync.WithWorkerLogger(d.logger),
		profilesync.WithConcurrency(cfg.Worker.Concurrency),
		profilesync.WithWorkerActivityTimeout(cfg.Saga.ActivityTimeout),
	}
	if cfg.Debug {
		opts = append(opts, profilesync.WithWorkerDebugMode())
	}

	return opts
}
