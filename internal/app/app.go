// Package app wires the application together and owns its lifecycle.
package app

import (
	"context"
	"strconv"

	"credsync/internal/auth"
	"credsync/internal/common/logging"
	"credsync/internal/config"
	"credsync/internal/credstore"
	"credsync/internal/crypto"
	"credsync/internal/grantclient"
	"credsync/internal/redis"
	"credsync/internal/refresh"
	"credsync/internal/scheduler"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Store       credstore.Store
	RedisClient *redis.Client
	Encryptor   *crypto.ConfigEncryptor
	Auth        *auth.Auth
	GrantClient *grantclient.Client
	Coordinator *refresh.Coordinator
	Scheduler   *scheduler.Scheduler
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	// Initialize components in order of dependency
	if err := app.initializeEncryption(); err != nil {
		return nil, err
	}

	if err := app.initializeStore(); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		// Redis is optional; without it the run lock degrades to
		// last-write-wins arbitration by the upstream scheduler
		app.Logger.Warn("Redis initialization failed, continuing without coordination",
			logging.Field{Key: "error", Value: err.Error()})
	}

	app.Auth = auth.New(cfg.JWTSecret, app.Logger)

	if err := app.initializeRefresh(); err != nil {
		return nil, err
	}

	if cfg.SelfScheduleEnabled {
		app.Scheduler = scheduler.New(app.Coordinator, cfg.RefreshCadence, app.Logger)
	}

	return app, nil
}

func (app *App) initializeEncryption() error {
	encryptor, err := crypto.NewConfigEncryptor(app.Config.EncryptionKey)
	if err != nil {
		return err
	}
	app.Encryptor = encryptor
	return nil
}

func (app *App) initializeStore() error {
	store, err := credstore.Open(app.Config, app.Encryptor)
	if err != nil {
		return err
	}
	app.Store = store

	app.Logger.Info("Credential store ready",
		logging.Field{Key: "type", Value: app.Config.DatabaseType},
	)
	return nil
}

func (app *App) initializeRedis() error {
	if app.Config.RedisAddress == "" {
		return nil
	}

	db, err := strconv.Atoi(app.Config.RedisDB)
	if err != nil {
		db = 0
	}

	client, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       db,
	})
	if err != nil {
		return err
	}

	app.RedisClient = client
	app.Logger.Info("Redis coordination ready",
		logging.Field{Key: "address", Value: app.Config.RedisAddress},
	)
	return nil
}

func (app *App) initializeRefresh() error {
	client, err := grantclient.NewClient(app.Config.PMSTokenURL, app.Config.GrantTimeout,
		grantclient.WithLogger(app.Logger))
	if err != nil {
		return err
	}
	app.GrantClient = client

	engine := refresh.NewEngine(client, app.Logger)

	// An interface holding a typed nil is not nil; only hand the coordinator
	// a coordination backend when Redis actually connected
	var coord refresh.BatchCoordination
	if app.RedisClient != nil {
		coord = app.RedisClient
	}

	app.Coordinator = refresh.NewCoordinator(app.Store, engine, coord, refresh.CoordinatorOptions{
		Window:       app.Config.RefreshWindow,
		BatchTimeout: app.Config.BatchTimeout,
		Workers:      app.Config.BatchWorkers,
	}, app.Logger)

	return nil
}

// StartScheduler arms the self-arming refresh timer when enabled.
func (app *App) StartScheduler() error {
	if app.Scheduler == nil {
		app.Logger.Info("Self-scheduling disabled, relying on external trigger")
		return nil
	}
	return app.Scheduler.Start()
}

// Shutdown stops background work and releases resources.
func (app *App) Shutdown(ctx context.Context) error {
	if app.Scheduler != nil {
		if err := app.Scheduler.Stop(ctx); err != nil {
			app.Logger.Warn("Scheduler did not stop cleanly",
				logging.Field{Key: "error", Value: err.Error()})
		}
	}

	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Failed to close Redis client",
				logging.Field{Key: "error", Value: err.Error()})
		}
	}

	if app.Store != nil {
		return app.Store.Close()
	}
	return nil
}
