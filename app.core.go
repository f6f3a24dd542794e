package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type AppProvider interface {
	Run() error
	Serve() func() error
	Stop(context.Context, context.Context) func() error
}

type App struct {
	logger         *zap.Logger
	config         *Config
	server         *http.Server
	registry       *BookRegistry
	cleanups       []func()
	queueConsumers []func(context.Context) error
	workers        []func(context.Context) error
}

// setupStorage opens the registry backend selected by configuration.
func setupStorage(logger *zap.Logger, config *Config, redisClient *redis.Client) (RegistryStorage, error) {
	switch config.Registry.Backend {
	case BackendBolt:
		boltDBClient, err := GetBoltDBClient(config)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to boltDB server: %s", err)
		}
		return NewBoltRegistryStorage(logger, &config.BoltDB, boltDBClient), nil
	case BackendRedis:
		return NewRedisRegistryStorage(logger, redisClient), nil
	default:
		return NewFileRegistryStorage(logger, config.Registry.DataDir), nil
	}
}

// NewApp provides an instance of App.
func NewApp() (AppProvider, error) {
	config, err := LoadAndInitConfigs(GitCommit, GitTag, BuildTime)
	if err != nil {
		return nil, fmt.Errorf("failed to setup app configuration: %s", err)
	}

	// ensure the logs folder exists and Setup the logging module.
	err = os.MkdirAll(config.LogFolder, 0o700)
	if err != nil {
		return nil, fmt.Errorf("failed to create logging folder: %s", err)
	}
	clock := NewTickClock(NewClock(config.IsProduction))
	writer := NewLogFileWriter(config, clock)
	logger, flusher := SetupLogging(config, writer, clock)

	cleanups := []func(){
		func() {
			if err := flusher(); err != nil {
				fmt.Println("error during flushing of logs: ", err)
			}
		},
		func() {
			if err := writer.Close(); err != nil {
				fmt.Println("error during closing of log file: ", err)
			}
		},
	}
	clean := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var redisClient *redis.Client
	if config.UsesRedis() {
		redisClient, err = GetRedisClient(config)
		if err != nil {
			clean()
			return nil, fmt.Errorf("failed to connect to redis server: %s", err)
		}
		cleanups = append(cleanups, func() { _ = redisClient.Close() })
	}

	storage, err := setupStorage(logger, config, redisClient)
	if err != nil {
		clean()
		return nil, err
	}
	cleanups = append(cleanups, func() {
		if err := storage.Close(); err != nil {
			logger.Error("failed to close registry storage", zap.Error(err))
		}
	})

	content := NewFileContentStore(logger, config.Registry.DataDir)
	fetcher := NewOPDSLoansFetcher(logger, &http.Client{Timeout: config.Registry.FetchTimeout}, config.Accounts)
	ids := NewIDsHandler()
	registry := NewBookRegistry(logger, clock, ids, storage, fetcher, content)

	ctx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout+5*time.Second)
	err = registry.SwitchAccount(ctx, config.Registry.DefaultAccount)
	cancel()
	if err != nil {
		clean()
		return nil, fmt.Errorf("failed to load registry of account %s: %s", config.Registry.DefaultAccount, err)
	}

	var tally *EventsTally
	var queueConsumers []func(context.Context) error
	if config.Events.Enable {
		tally = NewEventsTally()
		queue := NewRedisQueue(redisClient)
		registry.Subscribe(NewEventsPublisher(logger, queue, config.Events.PushTimeout))
		consumer := NewEventsConsumer(logger, queue, tally)
		queueConsumers = append(queueConsumers, func(ctx context.Context) error {
			return consumer.Consume(ctx, BookEventsQueue, SyncEventsQueue)
		})
	}

	workers := []func(context.Context) error{
		func(ctx context.Context) error {
			return registry.RunAutoSave(ctx, clock, config.Registry.AutoSaveInterval)
		},
	}
	if config.Registry.SyncSchedule != "" {
		scheduler := NewSyncScheduler(logger, clock, registry, config.Registry.SyncSchedule)
		workers = append(workers, scheduler.Run)
	}

	apiService := NewAPIHandler(
		logger,
		config,
		&Statistics{
			version:   config.GitTag,
			container: IsAppRunningInDocker(),
			started:   clock.Now(),
			runtime:   runtime.Version(),
			platform:  runtime.GOOS + "/" + runtime.GOARCH,
		},
		clock,
		ids,
		registry,
		content,
		tally,
	)

	// Use git commit in case the tag is not set.
	if config.GitTag == "" {
		apiService.stats.version = config.GitCommit
	}

	// Build the map of middlewares stacks.
	middlewaresPublic, middlewaresOps := apiService.MiddlewaresStacks()

	// Configure the endpoints with their handlers and middlewares.
	router := apiService.SetupRoutes(httprouter.New(),
		&MiddlewareMap{
			public: middlewaresPublic.Chain,
			ops:    middlewaresOps.Chain,
		},
	)

	// Build the api server definition.
	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port),
		Handler:        router,
		ReadTimeout:    config.Server.ReadTimeout,
		WriteTimeout:   config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // Max headers size : 1MB
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return SaveConnInContext(ctx, c)
		},
	}

	return &App{
		logger:         logger,
		config:         config,
		server:         srv,
		registry:       registry,
		cleanups:       cleanups,
		queueConsumers: queueConsumers,
		workers:        workers,
	}, nil
}

// Run starts the api web server and a goroutine which is responsible to stop it.
func (app *App) Run() error {
	defer app.Clean()
	nCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(nCtx)

	g.Go(app.ConsumeQueues(gCtx, g))
	g.Go(app.RunWorkers(gCtx, g))
	g.Go(app.Serve())
	g.Go(app.Stop(nCtx, gCtx))

	err := g.Wait()
	app.logger.Info("api server stopped",
		zap.String("app.host", app.config.Server.Host),
		zap.String("app.port", app.config.Server.Port),
		zap.Error(err),
	)
	return err
}

// Clean calls all registered cleanups functions in reverse order.
func (app *App) Clean() {
	for i := len(app.cleanups) - 1; i >= 0; i-- {
		app.cleanups[i]()
	}
}

// Serve starts the api web server. It returned error
// will be caught by the errorgroup.
func (app *App) Serve() func() error {
	return func() error {
		app.logger.Info("api server starting",
			zap.String("app.host", app.config.Server.Host),
			zap.String("app.port", app.config.Server.Port),
		)
		err := app.server.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		return err
	}
}

// Stop listens for the group context and triggers the server graceful shutdown.
// It states the reason of its call. We proceed with a brutal shutdown if the
// the graceful did not complete successfully. The registry is saved once the
// server no longer accepts requests. We explicitly return `nil` to allow the
// errorgroup catches only the `Serve` method result.
func (app *App) Stop(nCtx, gCtx context.Context) func() error {
	return func() error {
		<-gCtx.Done()

		if nCtx.Err() != nil {
			app.logger.Info("api server stopping. reason: requested to stop")
		} else {
			app.logger.Info("api server stopping. reason: errored at running")
		}

		sCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		defer cancel()
		err := app.server.Shutdown(sCtx)
		switch err {
		case nil, http.ErrServerClosed:
			app.logger.Info("api server graceful shutdown succeeded")
		case context.DeadlineExceeded:
			app.logger.Info("api server graceful shutdown timed out")
		default:
			app.logger.Info("api server graceful shutdown failed", zap.Error(err))
		}

		if err != nil && err != http.ErrServerClosed {
			app.logger.Info("api server going to force shutdown", zap.Error(app.server.Close()))
		}

		if err := app.registry.Save(context.Background()); err != nil {
			app.logger.Error("failed to save registry at shutdown", zap.String("account", app.registry.Account()), zap.Error(err))
		}
		return nil
	}
}

// ConsumeQueues runs all queue consumers into separate controlled goroutines.
func (app *App) ConsumeQueues(gCtx context.Context, g *errgroup.Group) func() error {
	return func() error {
		for _, consume := range app.queueConsumers {
			consume := consume
			g.Go(func() error {
				return consume(gCtx)
			})
		}
		return nil
	}
}

// RunWorkers runs the autosave loop and the sync scheduler into separate goroutines.
func (app *App) RunWorkers(gCtx context.Context, g *errgroup.Group) func() error {
	return func() error {
		for _, work := range app.workers {
			work := work
			g.Go(func() error {
				return work(gCtx)
			})
		}
		return nil
	}
}
