package bootstrap

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/hackgods/insured-appointments/internal/appointment"
	"github.com/hackgods/insured-appointments/internal/config"
	"github.com/hackgods/insured-appointments/internal/db"
	"github.com/hackgods/insured-appointments/internal/ledger"
	redisclient "github.com/hackgods/insured-appointments/internal/redis"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

// Check probes one dependency for the readiness endpoint.
type Check struct {
	Name string
	// Critical dependencies fail readiness; the rest only degrade it.
	Critical bool
	Ping     func(ctx context.Context) error
}

// Index is an opened central index store.
type Index struct {
	Store appointment.IndexStore
	Check Check
	Close func()
}

// OpenIndex connects the configured central index backend.
func OpenIndex(ctx context.Context, cfg config.Config, logger *logging.Logger) (*Index, error) {
	if err := cfg.RequireIndex(); err != nil {
		return nil, err
	}

	switch cfg.IndexBackend {
	case config.IndexBackendDynamo:
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg)
		logger.Info("central index on dynamodb", zap.String("table", cfg.DynamoTable))
		return &Index{
			Store: appointment.NewDynamoRepository(client, cfg.DynamoTable),
			Check: Check{Name: "dynamodb", Critical: true, Ping: func(ctx context.Context) error {
				_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &cfg.DynamoTable})
				return err
			}},
			Close: func() {},
		}, nil

	default:
		pool, err := db.ConnectPostgres(ctx, "central index", cfg.PostgresDSN, db.PoolOptions{})
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := db.ApplySchema(ctx, pool, db.IndexSchema); err != nil {
				pool.Close()
				return nil, err
			}
			logger.Info("central index schema applied")
		}
		logger.Info("central index on postgres")
		return &Index{
			Store: appointment.NewPgRepository(pool),
			Check: Check{Name: "postgres", Critical: true, Ping: pool.Ping},
			Close: pool.Close,
		}, nil
	}
}

// Ledger is an opened country ledger.
type Ledger struct {
	Store *ledger.PgStore
	Check Check
	Close func()
}

// OpenLedger connects the ledger database of one country.
func OpenLedger(ctx context.Context, cfg config.Config, country appointment.Country, logger *logging.Logger) (*Ledger, error) {
	dsn, err := cfg.LedgerDSN(string(country))
	if err != nil {
		return nil, err
	}

	pool, err := db.ConnectPostgres(ctx, "ledger "+string(country), dsn, db.PoolOptions{MaxConns: int32(cfg.Workers) + 1})
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.ApplySchema(ctx, pool, db.LedgerSchema(ledger.TableName(country))); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("ledger schema applied", zap.String("country", string(country)))
	}

	return &Ledger{
		Store: ledger.NewPgStore(country, pool),
		Check: Check{Name: "ledger_" + string(country), Critical: true, Ping: pool.Ping},
		Close: pool.Close,
	}, nil
}

// Locker is the optional per-insured creation lock.
type Locker struct {
	Locker redisclient.Locker
	Check  Check
	Close  func()
}

// OpenLocker returns a nil Locker.Locker when locking is disabled or Redis is
// unreachable; the conditional index write still guards uniqueness.
func OpenLocker(ctx context.Context, cfg config.Config, logger *logging.Logger) *Locker {
	if !cfg.LockEnabled {
		logger.Info("insured lock disabled")
		return &Locker{Close: func() {}}
	}

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Warn("redis unavailable, creating without insured lock", zap.Error(err))
		return &Locker{Close: func() {}}
	}

	return &Locker{
		Locker: redisclient.NewRedisInsuredLocker(rdb, cfg.LockTTL),
		Check: Check{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}},
		Close: func() { _ = rdb.Close() },
	}
}
