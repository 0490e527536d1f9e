package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-admin/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-admin/internal/app"
	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-admin/internal/audit/http"
	"github.com/odyssey-erp/odyssey-admin/internal/auth"
	"github.com/odyssey-erp/odyssey-admin/internal/observability"
	"github.com/odyssey-erp/odyssey-admin/internal/permissions"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/roles"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
	"github.com/odyssey-erp/odyssey-admin/internal/users"
	"github.com/odyssey-erp/odyssey-admin/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "audit" {
		os.Exit(runAuditCLI(ctx, cfg, os.Args[2:]))
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.PGMigrateOnStart {
		if err := db.Migrate(ctx, dbpool); err != nil {
			logger.Error("run migrations", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, "odyssey_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	storeCfg := rbac.DefaultResilientConfig()
	storeCfg.Timeout = cfg.StoreTimeout
	rbacStore := rbac.NewResilientStore(rbac.NewPGStore(dbpool), storeCfg)
	resolver := rbac.NewResolver(rbacStore)
	guard := rbac.NewGuard(resolver, logger, metrics)
	rbacMiddleware := rbac.Middleware{Guard: guard}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts, cfg.AuditRetryMax)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	auditRepo := audit.NewRepository(dbpool)
	auditLogger := audit.NewLogger(auditRepo, jobClient, metrics, logger)
	auditService := audit.NewService(auditRepo, guard)
	auditHandler := audithttp.NewHandler(logger, auditService)

	provider, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
		IssuerURL:    cfg.OIDCIssuerURL,
		ClientID:     cfg.OIDCClientID,
		ClientSecret: cfg.OIDCClientSecret,
		RedirectURL:  cfg.OIDCRedirectURL,
		Scopes:       cfg.OIDCScopes,
	})
	if err != nil {
		logger.Error("init identity provider", slog.Any("error", err))
		os.Exit(1)
	}
	authService := auth.NewService(auth.NewRepository(dbpool), sessionManager, metrics, logger)
	authHandler := auth.NewHandler(logger, authService, provider, csrfManager, cfg.AppLanding)

	rolesService := roles.NewService(roles.NewRepository(dbpool), guard, auditLogger, logger)
	permissionsService := permissions.NewService(permissions.NewRepository(dbpool), guard, auditLogger, logger)
	usersService := users.NewService(users.NewRepository(dbpool), guard, resolver, auditLogger, sessionManager, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		AuthService:        authService,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        authHandler,
		RolesHandler:       roles.NewHandler(logger, rolesService),
		PermissionsHandler: permissions.NewHandler(logger, permissionsService),
		UsersHandler:       users.NewHandler(logger, usersService, rbacMiddleware),
		AuditHandler:       auditHandler,
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Health: func(r *http.Request) error {
			pingCtx, cancel := context.WithTimeout(r.Context(), cfg.StoreTimeout)
			defer cancel()
			if err := dbpool.Ping(pingCtx); err != nil {
				return err
			}
			return cache.Ping(pingCtx, redisClient)
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runAuditCLI(ctx context.Context, cfg *app.Config, args []string) int {
	base, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		slog.Default().Error("init jobs cli", slog.Any("error", err))
		return 1
	}
	defer func() {
		_ = base.Close()
	}()
	return cli.NewAuditCLI(base, os.Stdout, os.Stderr).Run(ctx, args)
}
