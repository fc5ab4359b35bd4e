package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"chatvoice/internal/app/services"
	"chatvoice/internal/domain/audiocache"
	"chatvoice/internal/domain/audiocache/store"
	"chatvoice/internal/domain/auth"
	"chatvoice/internal/domain/eventbus"
	"chatvoice/internal/domain/playback"
	"chatvoice/internal/domain/synthesis"
	platformconfig "chatvoice/internal/platform/config"
	platformerrors "chatvoice/internal/platform/errors"
	platformlogging "chatvoice/internal/platform/logging"
	"chatvoice/internal/platform/media"
	"chatvoice/internal/platform/media/speaker"
	platformobservability "chatvoice/internal/platform/observability"
	platformstorage "chatvoice/internal/platform/storage"
	httptransport "chatvoice/internal/transport/http"
	"chatvoice/internal/transport/ws"
)

const (
	logTag = "Bootstrap"
	// LoopbackChannel as channel.url keeps the event channel in process.
	LoopbackChannel = "loopback"
	shutdownTimeout = 15 * time.Second
)

// Options tune Run. A preset Config skips file loading.
type Options struct {
	ConfigPath string
	Config     *platformconfig.Config
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	opts                  Options
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	metrics               *platformobservability.Metrics
	observabilityShutdown platformobservability.ShutdownFunc

	db    *gorm.DB
	store store.Store
	cache *audiocache.Cache

	channel  eventbus.Channel
	client   *ws.Client
	loopback *eventbus.Loopback
	userID   string

	bus          eventbus.Bus
	mediaFactory playback.MediaFactory
	engine       *playback.Engine
	resolver     *synthesis.Resolver
	orchestrator *playback.Orchestrator
	playback     *services.PlaybackService

	router *httptransport.Router
}

// Run starts the client, serves until ctx ends or a signal arrives, then
// shuts everything down.
func Run(ctx context.Context, opts Options) error {
	state := &appState{opts: opts}
	defer state.close()

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}
	logger := state.logger
	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	startServices(state, group, groupCtx)

	return waitForShutdown(groupCtx, cancel, logger, group)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag(logTag, "init graph:")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag(logTag, "  %s (%s)", step.ID, step.Title)
			continue
		}
		logger.InfoTag(logTag, "  %s (%s) <- %s", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
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
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Open audio database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "cache:init-store",
			Title:     "Initialise audio cache",
			DependsOn: []string{"storage:init-database", "observability:setup-hooks"},
			Kind:      platformerrors.KindStorage,
			Execute:   initCacheStep,
		},
		{
			ID:        "channel:init-client",
			Title:     "Initialise event channel",
			DependsOn: []string{"observability:setup-hooks"},
			Kind:      platformerrors.KindTransport,
			Execute:   initChannelStep,
		},
		{
			ID:        "media:init-factory",
			Title:     "Initialise media output",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initMediaStep,
		},
		{
			ID:        "playback:init",
			Title:     "Wire playback",
			DependsOn: []string{"cache:init-store", "channel:init-client", "media:init-factory"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initPlaybackStep,
		},
		{
			ID:        "http:build-router",
			Title:     "Build control API",
			DependsOn: []string{"playback:init"},
			Kind:      platformerrors.KindTransport,
			Execute:   buildRouterStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	if state.opts.Config != nil {
		state.config = state.opts.Config
		state.configPath = "preset"
		return nil
	}
	result, err := platformconfig.NewLoader().WithPath(state.opts.ConfigPath).Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load config", err)
	}
	state.config = result.Config
	state.configPath = result.Path
	if state.configPath == "" {
		state.configPath = "defaults"
	}
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}
	state.logger = logger
	logger.InfoTag(logTag, "logging ready [%s] config=%s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	cfg := platformobservability.Config{Enabled: state.config.Observability.Enabled}
	metrics, shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.metrics = metrics
	state.observabilityShutdown = shutdown
	return nil
}

func initDatabaseStep(ctx context.Context, state *appState) error {
	if store.NormalizeDriver(state.config.Cache.Driver) != store.DriverSQLite {
		return nil
	}
	db, err := platformstorage.Open(ctx, state.config.Cache.SQLite.DSN)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "failed to open audio database", err)
	}
	state.db = db
	state.logger.InfoTag("Cache", "sqlite database ready at %s", state.config.Cache.SQLite.DSN)
	return nil
}

func initCacheStep(_ context.Context, state *appState) error {
	cfg := state.config.Cache
	s, err := store.New(store.Config{
		Driver:    cfg.Driver,
		Namespace: cfg.Namespace,
		Memory: &store.MemoryConfig{
			MaxBytes: cfg.Memory.MaxBytes,
		},
		Redis: &store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			KeyTTL:   cfg.Redis.KeyTTL,
		},
	}, store.Dependencies{SQLiteDB: state.db})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "cache:init-store", "failed to create audio store", err)
	}
	state.store = s
	state.cache = audiocache.New(s,
		audiocache.WithMaxAge(cfg.MaxAge),
		audiocache.WithLogger(state.logger),
		audiocache.WithMetrics(state.metrics),
	)
	state.logger.InfoTag("Cache", "audio cache ready (driver=%s, max age %s)", cfg.Driver, cfg.MaxAge)
	return nil
}

func initChannelStep(_ context.Context, state *appState) error {
	cfg := state.config.Channel
	if cfg.Token != "" {
		userID, err := channelUserID(cfg)
		if err != nil {
			state.logger.WarnTag(logTag, "could not read user id from channel token: %v", err)
		}
		state.userID = userID
	}

	if cfg.URL == LoopbackChannel {
		state.loopback = eventbus.NewLoopback()
		state.channel = state.loopback
		state.logger.InfoTag("WebSocket", "event channel runs in process")
		return nil
	}

	state.client = ws.NewClient(ws.ClientConfig{
		URL:              cfg.URL,
		Token:            cfg.Token,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		PingInterval:     cfg.PingInterval,
		Logger:           state.logger,
		Metrics:          state.metrics,
	})
	state.channel = state.client
	return nil
}

func channelUserID(cfg platformconfig.ChannelConfig) (string, error) {
	if cfg.TokenSecret != "" {
		return auth.VerifiedUserID(cfg.Token, []byte(cfg.TokenSecret))
	}
	return auth.UserIDFromToken(cfg.Token)
}

func initMediaStep(_ context.Context, state *appState) error {
	opts := media.Options{
		UpdateInterval: state.config.Media.UpdateInterval,
		Logger:         state.logger,
	}
	switch state.config.Media.Output {
	case "speaker":
		state.mediaFactory = speaker.New(opts)
	case "silent":
		state.mediaFactory = media.NewSilentFactory(opts)
	default:
		return platformerrors.New(platformerrors.KindConfig, "media:init-factory",
			fmt.Sprintf("unsupported media output %q", state.config.Media.Output))
	}
	state.logger.InfoTag("Media", "media output: %s", state.config.Media.Output)
	return nil
}

func initPlaybackStep(_ context.Context, state *appState) error {
	state.bus = eventbus.New()
	subscribePresentationLog(state.bus, state.logger)

	state.engine = playback.NewEngine(playback.EngineConfig{
		Factory: state.mediaFactory,
		Bus:     state.bus,
		Logger:  state.logger,
		Metrics: state.metrics,
	})
	state.resolver = synthesis.NewResolver(synthesis.ResolverConfig{
		Cache:   state.cache,
		Channel: state.channel,
		Timeout: state.config.Synthesis.Timeout,
		Logger:  state.logger,
		Metrics: state.metrics,
	})
	state.orchestrator = playback.NewOrchestrator(playback.OrchestratorConfig{
		Player:   state.engine,
		Resolver: state.resolver,
		Bus:      state.bus,
		Logger:   state.logger,
		UserID:   state.userID,
	})
	state.playback = services.NewPlaybackService(&services.PlaybackConfig{
		Orchestrator: state.orchestrator,
		Cache:        state.cache,
		Logger:       state.logger,
	})
	return nil
}

func subscribePresentationLog(bus eventbus.Bus, logger *platformlogging.Logger) {
	_ = bus.Subscribe(eventbus.EventPlaybackMode, func(d eventbus.ModeData) {
		logger.DebugTag("Playback", "mode=%s message=%s (%d/%d)", d.Mode, d.MessageID, d.Index+1, d.Total)
	})
	_ = bus.Subscribe(eventbus.EventPlaybackState, func(d eventbus.PlaybackStateData) {
		logger.DebugTag("Playback", "state=%s message=%s", d.State, d.MessageID)
	})
}

func buildRouterStep(_ context.Context, state *appState) error {
	if !state.config.HTTP.Enabled {
		return nil
	}
	router, err := httptransport.Build(httptransport.Options{
		Config:      state.config.HTTP,
		Logger:      state.logger,
		Metrics:     state.metrics,
		MetricsPath: state.config.Observability.MetricsPath,
		Debug:       strings.EqualFold(state.config.Log.Level, "debug"),
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "http:build-router", "failed to build router", err)
	}

	router.Engine.NoRoute(func(c *gin.Context) {
		httptransport.RespondError(c, http.StatusNotFound, "api not found", gin.H{})
	})
	httptransport.NewPlaybackHandler(state.playback, state.logger).Register(router.API)
	state.router = router
	return nil
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) {
	logger := state.logger

	if state.client != nil {
		g.Go(func() error {
			return state.client.Run(groupCtx)
		})
	}

	if interval := state.config.Cache.SweepInterval; interval > 0 {
		g.Go(func() error {
			return state.cache.RunSweeper(groupCtx, interval)
		})
	}

	if state.router != nil {
		server := httptransport.NewServer(state.config.HTTP.IP, state.config.HTTP.Port, state.router.Engine, logger)
		g.Go(func() error {
			if err := server.Start(groupCtx); err != nil {
				logger.ErrorTag("HTTP", "server failed: %v", err)
				return err
			}
			return nil
		})
	}

	logger.InfoTag(logTag, "chatvoice started")
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag(logTag, "shutting down: %v", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag(logTag, "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag(logTag, "all services stopped")
	case <-time.After(shutdownTimeout):
		logger.ErrorTag(logTag, "shutdown timed out")
		return errors.New("shutdown timed out")
	}
	return nil
}

// close releases everything the init steps created, in reverse order.
func (s *appState) close() {
	if s.orchestrator != nil {
		s.orchestrator.Close()
	}
	if s.resolver != nil {
		s.resolver.Close()
	}
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.loopback != nil {
		_ = s.loopback.Close()
	}
	if s.store != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.Close(shutdownCtx); err != nil && s.logger != nil {
			s.logger.WarnTag("Cache", "audio store did not close cleanly: %v", err)
		}
		cancel()
	}
	if s.db != nil {
		if err := platformstorage.Close(s.db); err != nil && s.logger != nil {
			s.logger.WarnTag("Cache", "database did not close cleanly: %v", err)
		}
	}
	if s.observabilityShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.observabilityShutdown(shutdownCtx); err != nil && s.logger != nil {
			s.logger.WarnTag(logTag, "observability did not shut down cleanly: %v", err)
		}
		cancel()
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}
