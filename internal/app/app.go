package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/access"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/events"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// App holds the connections and the scheduling engine shared by the
// binaries. PgPool and Redis are nil when not configured.
type App struct {
	Config  config.Config
	Log     zerolog.Logger
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Service *appointment.Service
}

type Options struct {
	Migrate bool
}

func New(ctx context.Context, cfg config.Config, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: log}

	policy, err := buildPolicy(cfg)
	if err != nil {
		return nil, err
	}

	var (
		store    appointment.Store
		patients directory.Patients
	)
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.PgPool = pool
		log.Info().Msg("connected to Postgres")

		if opts.Migrate {
			if err := db.Migrate(ctx, pool, log); err != nil {
				a.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}

		store = appointment.NewPgStore(pool)
		patients = directory.NewCached(directory.NewPgDirectory(pool), cfg.PatientCacheTTL)
	default:
		log.Warn().Msg("using in-memory store, appointments are lost on restart")
		store = appointment.NewMemoryStore()
		patients = directory.NewMemory()
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		switch {
		case err == nil:
			a.Redis = rdb
			log.Info().Msg("connected to Redis")
		case cfg.LockBackend == config.LockRedis:
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		default:
			log.Warn().Err(err).Msg("redis unavailable, appointment events disabled")
		}
	}

	var locker redisclient.Locker = redisclient.NewLocalLocker()
	if cfg.LockBackend == config.LockRedis {
		locker = redisclient.NewRedisLocker(a.Redis, cfg.LockTTL, cfg.LockWait)
	}

	svcOpts := []appointment.Option{}
	if a.Redis != nil {
		svcOpts = append(svcOpts, appointment.WithPublisher(events.NewRedisPublisher(a.Redis, events.DefaultChannel)))
	}

	a.Service = appointment.NewService(store, locker, patients, policy, cfg, log, svcOpts...)

	log.Info().
		Str("store", cfg.StoreBackend).
		Str("locker", cfg.LockBackend).
		Dur("lock_ttl", cfg.LockTTL).
		Dur("lock_wait", cfg.LockWait).
		Str("timezone", cfg.ClinicLocation.String()).
		Msg("scheduling engine ready")

	return a, nil
}

func buildPolicy(cfg config.Config) (*access.Policy, error) {
	grants, err := access.ParseRules(cfg.AccessGrants)
	if err != nil {
		return nil, fmt.Errorf("ACCESS_GRANTS: %w", err)
	}
	revokes, err := access.ParseRules(cfg.AccessRevoke)
	if err != nil {
		return nil, fmt.Errorf("ACCESS_REVOKES: %w", err)
	}

	policy := access.DefaultPolicy()
	policy.Apply(grants, revokes)
	return policy, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("error closing redis")
		}
	}
	if a.PgPool != nil {
		a.PgPool.Close()
	}
}
