// Package bootstrap opens the storage, messaging and locking backends named
// by the configuration.
package bootstrap

import (
	"context"
	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rl1809/stock-reservation/internal/adapter/client"
	"github.com/rl1809/stock-reservation/internal/adapter/handler/rpc"
	"github.com/rl1809/stock-reservation/internal/adapter/messaging"
	"github.com/rl1809/stock-reservation/internal/adapter/storage"
	"github.com/rl1809/stock-reservation/internal/config"
	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
)

type Backends struct {
	Inventory port.Inventory
	Orders    port.OrderLog
	// Events is nil when publishing is disabled.
	Events port.EventPublisher
	Locker port.Locker

	redis   *redis.Client
	db      *sql.DB
	closers []func() error
}

// Open connects every backend cfg selects. On error, anything already
// opened is closed.
func Open(ctx context.Context, cfg *config.Config) (_ *Backends, err error) {
	b := &Backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	if b.Inventory, err = b.openInventory(ctx, cfg); err != nil {
		return nil, err
	}
	if b.Orders, err = b.openOrderLog(ctx, cfg); err != nil {
		return nil, err
	}
	if b.Events, err = openEvents(cfg.Events); err != nil {
		return nil, err
	}
	if b.Events != nil {
		b.closers = append(b.closers, b.Events.Close)
	}

	if b.redis != nil {
		b.Locker = storage.NewRedisLocker(b.redis)
	} else {
		b.Locker = storage.NewLocalLocker()
	}
	return b, nil
}

// Close releases connections in reverse order of opening.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn().Err(err).Msg("failed to close backend")
		}
	}
	b.closers = nil
}

func (b *Backends) openInventory(ctx context.Context, cfg *config.Config) (port.Inventory, error) {
	switch cfg.Ledger.Backend {
	case "redis":
		rdb, err := b.redisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return storage.NewRedisLedger(rdb), nil
	case "mysql":
		db, err := b.sqlDB(ctx, cfg.MySQL)
		if err != nil {
			return nil, err
		}
		ledger := storage.NewMySQLLedger(db)
		if cfg.MySQL.MigrateOnStart {
			if err := ledger.EnsureSchema(ctx); err != nil {
				return nil, errors.Wrap(err, "migrate stock ledger")
			}
		}
		return ledger, nil
	case "remote":
		conn, err := client.Dial(cfg.Ledger.RemoteAddr)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, conn.Close)
		log.Info().Str("addr", cfg.Ledger.RemoteAddr).Msg("using remote inventory service")
		return client.NewRemoteLedger(rpc.NewInventoryServiceClient(conn), cfg.Ledger.RequestTimeout), nil
	default:
		log.Warn().Msg("using in-memory stock ledger, stock is lost on restart")
		return storage.NewMemoryLedger(), nil
	}
}

func (b *Backends) openOrderLog(ctx context.Context, cfg *config.Config) (port.OrderLog, error) {
	if cfg.OrderLog.Backend != "mysql" {
		log.Warn().Msg("using in-memory order log, orders are lost on restart")
		return storage.NewMemoryOrderLog(), nil
	}

	db, err := b.sqlDB(ctx, cfg.MySQL)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open gorm")
	}
	orders := storage.NewGormOrderLog(gdb)
	if cfg.MySQL.MigrateOnStart {
		if err := orders.EnsureSchema(ctx); err != nil {
			return nil, errors.Wrap(err, "migrate order log")
		}
	}
	return orders, nil
}

func openEvents(cfg config.EventsConfig) (port.EventPublisher, error) {
	switch cfg.Backend {
	case "kafka":
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing order events to kafka")
		return messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "rabbitmq":
		p, err := messaging.NewRabbitPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPMaxRetry)
		if err != nil {
			return nil, err
		}
		log.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing order events to rabbitmq")
		return p, nil
	case "log":
		return messaging.NewLogPublisher(), nil
	default:
		return nil, nil
	}
}

func (b *Backends) redisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if b.redis != nil {
		return b.redis, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "connect redis %s", cfg.Addr)
	}
	log.Info().Str("addr", cfg.Addr).Msg("connected to redis")
	b.redis = rdb
	b.closers = append(b.closers, rdb.Close)
	return rdb, nil
}

func (b *Backends) sqlDB(ctx context.Context, cfg config.MySQLConfig) (*sql.DB, error) {
	if b.db != nil {
		return b.db, nil
	}
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse mysql dsn")
	}
	dsn.ParseTime = true

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping mysql %s", dsn.Addr)
	}
	log.Info().Str("addr", dsn.Addr).Str("db", dsn.DBName).Msg("connected to mysql")
	b.db = db
	b.closers = append(b.closers, db.Close)
	return db, nil
}

// Seed creates the configured items that do not exist yet. Existing stock is
// left alone.
func Seed(ctx context.Context, catalog port.Catalog, seed map[string]int64) error {
	for itemID, available := range seed {
		_, err := catalog.GetItem(ctx, itemID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrItemNotFound) {
			return errors.Wrapf(err, "seed %s", itemID)
		}
		if _, err := catalog.PutItem(ctx, itemID, available); err != nil {
			return errors.Wrapf(err, "seed %s", itemID)
		}
		log.Info().Str("item_id", itemID).Int64("available", available).Msg("seeded stock")
	}
	return nil
}
