package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/activity"
	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/eventbus"
	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/institution"
	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/routing"
	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/session"
	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/workflow"
	platformcache "github.com/Leochrono/dinero-tikee-sub001/internal/platform/cache"
	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/clientstore"
	platformconfig "github.com/Leochrono/dinero-tikee-sub001/internal/platform/config"
	platformerrors "github.com/Leochrono/dinero-tikee-sub001/internal/platform/errors"
	platformlogging "github.com/Leochrono/dinero-tikee-sub001/internal/platform/logging"
	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/httpapi"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config     *platformconfig.Config
	configPath string
	logger     *platformlogging.Logger
	sqliteDB   *gorm.DB
	store      clientstore.Store
	apiClient  *httpapi.Client
	cache      *platformcache.TTLCache

	sessionCtrl  *session.Controller
	workflowCtrl *workflow.Controller
	monitor      *activity.Monitor
	guard        *routing.Guard
	institutions *institution.Service
}

// App bundles the wired controllers for the embedding application.
type App struct {
	Config       *platformconfig.Config
	Session      *session.Controller
	Workflow     *workflow.Controller
	Monitor      *activity.Monitor
	Guard        *routing.Guard
	Institutions *institution.Service
}

// Run wires the whole client, performs the startup session check and draft
// resume, then blocks until a termination signal arrives.
func Run(ctx context.Context) error {
	state := &appState{}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	logger := state.logger
	if state.config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}
	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startServices(state, logger, group, groupCtx); err != nil {
		cancel()
		return err
	}

	if err := waitForShutdown(signalCtx, cancel, state, logger, group); err != nil {
		return err
	}

	logger.Info("bootstrap: client shut down cleanly")
	return logger.Close()
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	logger.Info("bootstrap: initialisation order")
	for _, step := range steps {
		logger.Info("bootstrap: %s", step.Title)
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "storage:init-client-store",
			Title:     "Initialise durable client store",
			DependsOn: []string{"config:load", "logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initClientStoreStep,
		},
		{
			ID:        "api:init-client",
			Title:     "Initialise remote API client",
			DependsOn: []string{"config:load", "logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initAPIClientStep,
		},
		{
			ID:        "cache:init-ttl",
			Title:     "Initialise TTL cache",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initCacheStep,
		},
		{
			ID:        "session:init-controller",
			Title:     "Initialise session controller",
			DependsOn: []string{"storage:init-client-store", "api:init-client"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initSessionStep,
		},
		{
			ID:        "workflow:init-controller",
			Title:     "Initialise workflow controller",
			DependsOn: []string{"session:init-controller"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initWorkflowStep,
		},
		{
			ID:        "activity:init-monitor",
			Title:     "Initialise inactivity monitor",
			DependsOn: []string{"session:init-controller"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initMonitorStep,
		},
		{
			ID:        "routing:init-guard",
			Title:     "Initialise route guard",
			DependsOn: []string{"session:init-controller"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initGuardStep,
		},
		{
			ID:        "institution:init-service",
			Title:     "Initialise institution lookup service",
			DependsOn: []string{"api:init-client", "cache:init-ttl"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initInstitutionStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "loading configuration", err)
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "logging:init-provider", "config not loaded")
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(
			platformerrors.KindBootstrap, "logging:init-provider", "initialising logging", err)
	}
	state.logger = logger
	logger.Info("bootstrap: logging ready [%s] %s", state.config.Log.Level, state.configPath)
	return nil
}

func initClientStoreStep(_ context.Context, state *appState) error {
	const op = "storage:init-client-store"
	if state.config == nil || state.logger == nil {
		return platformerrors.New(platformerrors.KindBootstrap, op, "missing config/logger")
	}

	storeCfg := state.config.Session.Store
	driver := strings.ToLower(strings.TrimSpace(storeCfg.Driver))
	if driver == "" || driver == "database" {
		driver = clientstore.DriverSQLite
	}

	cfg := clientstore.Config{
		Driver:    driver,
		Namespace: storeCfg.Namespace,
	}
	deps := clientstore.Dependencies{}

	switch driver {
	case clientstore.DriverSQLite:
		dsn := storeCfg.SQLite.DSN
		if dsn == "" {
			dsn = "tikee-client.db"
		}
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindStorage, op, "opening sqlite store", err)
		}
		state.sqliteDB = db
		deps.SQLiteDB = db
		cfg.SQLite = &clientstore.SQLiteConfig{DSN: dsn}
	case clientstore.DriverRedis:
		if storeCfg.Redis.Addr == "" {
			return platformerrors.New(platformerrors.KindStorage, op, "redis store addr is required")
		}
		cfg.Redis = &clientstore.RedisConfig{
			Addr:     storeCfg.Redis.Addr,
			Username: storeCfg.Redis.Username,
			Password: storeCfg.Redis.Password,
			DB:       storeCfg.Redis.DB,
			Prefix:   storeCfg.Redis.Prefix,
		}
	case clientstore.DriverMemory:
		// No external dependency.
	default:
		state.logger.Warn("bootstrap: unsupported store driver %s, falling back to memory", driver)
		cfg.Driver = clientstore.DriverMemory
	}

	store, err := clientstore.New(cfg, deps)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, op, "creating client store", err)
	}
	state.store = store
	state.logger.Info("bootstrap: client store ready [%s]", cfg.Driver)
	return nil
}

func initAPIClientStep(_ context.Context, state *appState) error {
	if state.config == nil || state.logger == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "api:init-client", "missing config/logger")
	}
	state.apiClient = httpapi.NewClient(
		state.config.API.BaseURL,
		state.config.API.Timeout,
		state.logger,
	)
	return nil
}

func initCacheStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "cache:init-ttl", "config not loaded")
	}
	state.cache = platformcache.New(state.config.Cache.TTL)
	return nil
}

func initSessionStep(_ context.Context, state *appState) error {
	ctrl, err := session.NewController(session.Options{
		Store:            state.store,
		API:              state.apiClient,
		Logger:           state.logger,
		Bus:              eventbus.Get(),
		ReverifyInterval: state.config.Session.ReverifyInterval,
	})
	if err != nil {
		return platformerrors.Wrap(
			platformerrors.KindBootstrap, "session:init-controller", "creating session controller", err)
	}
	state.sessionCtrl = ctrl
	return nil
}

func initWorkflowStep(_ context.Context, state *appState) error {
	ctrl, err := workflow.NewController(workflow.Options{
		Store:   state.store,
		API:     state.apiClient,
		Session: state.sessionCtrl,
		Logger:  state.logger,
		Bus:     eventbus.Get(),
	})
	if err != nil {
		return platformerrors.Wrap(
			platformerrors.KindBootstrap, "workflow:init-controller", "creating workflow controller", err)
	}
	state.workflowCtrl = ctrl
	return nil
}

func initMonitorStep(_ context.Context, state *appState) error {
	state.monitor = activity.NewMonitor(activity.Options{
		Session:   state.sessionCtrl,
		Logger:    state.logger,
		Bus:       eventbus.Get(),
		Threshold: state.config.Session.InactivityThreshold,
		Throttle:  state.config.Session.ActivityThrottle,
		Poll:      state.config.Session.ActivityPoll,
	})
	return nil
}

func initGuardStep(_ context.Context, state *appState) error {
	state.guard = routing.NewGuard(state.sessionCtrl, state.config.Routes)
	return nil
}

func initInstitutionStep(_ context.Context, state *appState) error {
	state.institutions = institution.NewService(
		state.apiClient,
		state.cache,
		state.logger,
		state.config.Cache.TTL,
	)
	return nil
}

// startServices performs the startup sequence: session check, draft resume,
// then the background timers.
func startServices(
	state *appState,
	logger *platformlogging.Logger,
	g *errgroup.Group,
	groupCtx context.Context,
) error {
	startCtx, cancel := context.WithTimeout(groupCtx, 30*time.Second)
	defer cancel()

	snap, err := state.sessionCtrl.Initialize(startCtx)
	if err != nil {
		return platformerrors.Wrap(
			platformerrors.KindBootstrap, "session:initialize", "startup session check", err)
	}
	logger.Info("bootstrap: session settled at %s", snap.Status)

	if err := state.workflowCtrl.ResumeFromStorage(startCtx); err != nil {
		logger.Warn("bootstrap: draft resume failed: %v", err)
	} else if draft := state.workflowCtrl.Snapshot(); draft != nil {
		logger.Info("bootstrap: resumed draft %s in %s", draft.ClientRef, draft.Status)
	}

	state.sessionCtrl.StartReverify()
	state.monitor.Start()
	state.cache.StartSweep(state.config.Cache.SweepInterval)

	g.Go(func() error {
		<-groupCtx.Done()
		return nil
	})
	return nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	state *appState,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.Info("bootstrap: received %v, cleaning up", context.Cause(ctx))

	cancel()

	state.cache.StopSweep()
	_ = state.monitor.Close()
	_ = state.sessionCtrl.Close()
	eventbus.Shutdown()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := state.store.Close(closeCtx); err != nil {
		logger.Warn("bootstrap: client store close failed: %v", err)
	}
	if state.sqliteDB != nil {
		if sqlDB, err := state.sqliteDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("bootstrap: shutdown finished with error: %v", err)
			return err
		}
		logger.Info("bootstrap: all services stopped")
	case <-time.After(15 * time.Second):
		logger.Error("bootstrap: shutdown timed out")
		return errors.New("shutdown timed out")
	}
	return nil
}

// Build wires the application without starting the background timers or
// blocking on signals. Embedding applications drive the lifecycle
// themselves: call Session.Initialize, Workflow.ResumeFromStorage, then
// the Start methods, and Close everything on teardown.
func Build(ctx context.Context) (*App, error) {
	state := &appState{}
	if err := executeInitSteps(ctx, InitGraph(), state); err != nil {
		return nil, err
	}
	return &App{
		Config:       state.config,
		Session:      state.sessionCtrl,
		Workflow:     state.workflowCtrl,
		Monitor:      state.monitor,
		Guard:        state.guard,
		Institutions: state.institutions,
	}, nil
}
