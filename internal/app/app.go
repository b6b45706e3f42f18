package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/data-vault/internal/config"
	"github.com/prperemyshlev/data-vault/internal/connector"
	"github.com/prperemyshlev/data-vault/internal/handler"
	"github.com/prperemyshlev/data-vault/internal/repository"
	"github.com/prperemyshlev/data-vault/internal/service"
	"github.com/prperemyshlev/data-vault/internal/utils"
	"github.com/prperemyshlev/data-vault/internal/vault"
	"github.com/prperemyshlev/data-vault/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	infra     Infrastructure
	config    *config.Config
	router    *gin.Engine
	server    *http.Server
	syncs     *service.SyncService
	scheduler *service.Scheduler

	stopScheduler context.CancelFunc
	schedulerDone sync.WaitGroup
}

type handlers struct {
	auth        *handler.AuthHandler
	connections *handler.ConnectionHandler
	syncs       *handler.SyncHandler
	records     *handler.RecordHandler
	insights    *handler.InsightsHandler
	exports     *handler.ExportHandler
	account     *handler.AccountHandler
}

func NewApp(infra Infrastructure, cfg *config.Config) (*App, error) {
	logger := infra.Logger()
	repos := repository.NewRepositories(infra.Postgres())
	metrics := infra.SyncMetrics()

	jwtManager := utils.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry.Duration)
	rateLimiter := service.NewRateLimiter(infra.Redis())
	healthChecker := NewHealthChecker(infra)

	cipher, err := vault.NewCipher([]byte(cfg.Vault.MasterKey), cfg.Vault.KeyVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vault cipher: %w", err)
	}

	oauthClient := connector.NewOAuthClient(cfg.OAuth.RedirectBaseURL, connector.DefaultOAuthProviders(cfg.OAuth), nil)
	credentialVault := vault.New(repos.Credential, cipher, oauthClient, logger,
		vault.WithRefreshMargin(cfg.Vault.RefreshMargin.Duration),
		vault.WithMetrics(metrics),
	)

	connectorOpts := connector.Options{
		MaxRetries: cfg.Sync.MaxRetries,
		BaseDelay:  cfg.Sync.RetryBaseDelay.Duration,
		MaxDelay:   cfg.Sync.RetryMaxDelay.Duration,
		Metrics:    metrics,
		Logger:     logger,
	}
	connectors := connector.NewRegistry(
		connector.NewSpotify(connectorOpts),
		connector.NewStrava(connectorOpts),
		connector.NewGoogleCalendar(connectorOpts),
	)

	auditService := service.NewAuditService(repos.Audit, metrics, logger)
	authService := service.NewAuthService(repos.User, jwtManager, cfg.Security.BCryptCost)

	syncService := service.NewSyncService(service.SyncDependencies{
		Connections: repos.Connection,
		Cursors:     repos.Cursor,
		Batches:     repos,
		Vault:       credentialVault,
		Connectors:  connectors,
		Audit:       auditService,
		Publisher:   infra.Publisher(),
		Limiter:     rateLimiter,
		Metrics:     metrics,
		Logger:      logger,
	}, service.SyncSettings{
		Timeout:       cfg.Sync.Timeout.Duration,
		TriggerLimit:  cfg.Sync.TriggerLimit,
		TriggerWindow: cfg.Sync.TriggerWindow.Duration,
	})

	connectionService := service.NewConnectionService(
		repos.Connection,
		repos.Record,
		repos.Cursor,
		credentialVault,
		oauthClient,
		service.NewRedisStateStore(infra.Redis()),
		connectors,
		syncService,
		auditService,
		logger,
		cfg.OAuth.StateTTL.Duration,
	)

	var narrator service.Narrator
	if n := service.NewHTTPNarrator(cfg.Narrative.Endpoint, cfg.Narrative.APIKey, cfg.Narrative.Timeout.Duration); n != nil {
		narrator = n
	}

	h := handlers{
		auth:        handler.NewAuthHandler(authService, logger),
		connections: handler.NewConnectionHandler(connectionService, cfg.OAuth.AppURL, logger),
		syncs:       handler.NewSyncHandler(syncService, logger),
		records:     handler.NewRecordHandler(service.NewRecordService(repos.Record), logger),
		insights:    handler.NewInsightsHandler(service.NewInsightsService(repos.Record, narrator, logger), logger),
		exports:     handler.NewExportHandler(service.NewExportService(repos.Record, auditService, logger), logger),
		account: handler.NewAccountHandler(
			service.NewAccountService(repos, repos.Connection, syncService, infra.Publisher(), logger),
			auditService,
			logger,
		),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(handler.LoggerMiddleware(logger))
	router.Use(handler.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders))

	setupRoutes(router, cfg, h, authService, rateLimiter, healthChecker, infra.MetricsHandler(), logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	return &App{
		infra:     infra,
		config:    cfg,
		router:    router,
		server:    srv,
		syncs:     syncService,
		scheduler: service.NewScheduler(syncService, cfg.Sync.Interval.Duration, cfg.Sync.MaxConcurrency, logger),
	}, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	h handlers,
	authService service.AuthService,
	rateLimiter *service.RateLimiter,
	healthChecker *HealthChecker,
	metricsHandler http.Handler,
	logger *zap.Logger,
) {
	router.GET("/metrics", observability.PrometheusHandler(metricsHandler))
	router.GET("/health", healthChecker.Handler)

	ipLimit := handler.RateLimitMiddleware(rateLimiter, cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow.Duration, handler.IPBasedKey, logger)
	userLimit := handler.RateLimitMiddleware(rateLimiter, cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow.Duration, handler.UserBasedKey, logger)
	requireUser := handler.AuthMiddleware(authService)

	api := router.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/signup", ipLimit, h.auth.Register)
			auth.POST("/register", ipLimit, h.auth.Register)
			auth.POST("/login", ipLimit, h.auth.Login)
			auth.GET("/me", requireUser, h.auth.GetMe)
		}

		oauth := api.Group("/oauth")
		{
			oauth.GET("/:provider/authorize", requireUser, h.connections.Authorize)
			oauth.GET("/callback/:provider", ipLimit, h.connections.Callback)
		}

		protected := api.Group("", requireUser)
		{
			protected.GET("/connections", h.connections.List)
			protected.POST("/connections/:provider/complete", userLimit, h.connections.Complete)
			protected.DELETE("/providers/:provider", h.connections.Disconnect)

			// TriggerSync applies its own per-user budget
			protected.POST("/sync/:provider", h.syncs.Trigger)

			protected.GET("/records", h.records.List)
			protected.GET("/insights/summary", h.insights.Summary)
			protected.POST("/export", userLimit, h.exports.Export)
			protected.DELETE("/account", h.account.Delete)
			protected.GET("/audit-logs", h.account.AuditLogs)
		}
	}
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	schedulerCtx, stop := context.WithCancel(ctx)
	a.stopScheduler = stop
	if a.scheduler.Enabled() {
		a.schedulerDone.Add(1)
		go func() {
			defer a.schedulerDone.Done()
			a.scheduler.Run(schedulerCtx)
		}()
	}

	go func() {
		a.infra.Logger().Info("Application starting",
			zap.String("host", a.config.Server.Host),
			zap.String("port", a.config.Server.Port),
		)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.infra.Logger().Error("Server error", zap.Error(err))
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case err := <-errChan:
		a.infra.Logger().Error("Application failed to start", zap.Error(err))
		serverErr = err
	case <-ctx.Done():
		a.infra.Logger().Info("Application stopped by context")
	}

	if err := a.Shutdown(); err != nil {
		a.infra.Logger().Error("Shutdown error", zap.Error(err))
		if serverErr != nil {
			return errors.Join(serverErr, err)
		}
		return err
	}

	return serverErr
}

// Shutdown stops intake first, then waits for sync runs to record their
// outcome before the stores are closed.
func (a *App) Shutdown() error {
	a.infra.Logger().Info("Application shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.stopScheduler != nil {
		a.stopScheduler()
	}

	errs := make(chan error, 2)

	go func() {
		errs <- a.server.Shutdown(ctx)
	}()

	go func() {
		a.schedulerDone.Wait()
		errs <- a.syncs.Shutdown(ctx)
	}()

	err := errors.Join(<-errs, <-errs, a.infra.Shutdown(ctx))
	if err != nil {
		a.infra.Logger().Error("Shutdown failed", zap.Error(err))
		return err
	}

	a.infra.Logger().Info("Application exited successfully")
	return nil
}
