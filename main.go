package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"event-rsvp/core"
	"event-rsvp/pkg/config"
	"event-rsvp/pkg/middlewares"
	"event-rsvp/pkg/resources"
	"event-rsvp/pkg/servers"
	"event-rsvp/pkg/telemetry"
)

func main() {
	var err error

	name, version, env := "event-rsvp", "1.0", "local"

	// 1. Config (Logger base included)
	ctx := config.Default(context.Background(), name, version, env)
	startupLogger := log.Ctx(ctx).With().Str("stage", "startup").Str("component", "main").Logger()
	shutdownLogger := log.Ctx(ctx).With().Str("stage", "shut down").Str("component", "main").Logger()

	startupLogger.Info().Msg("application starting up")
	defer shutdownLogger.Info().Msg("application stopped")

	hookFn := func(ctx context.Context) (context.Context, error) {
		log.Logger = log.Logger.Hook(resources.NewZerologHook(name, version))
		return log.Logger.WithContext(ctx), nil
	}

	// 2. Telemetry (traces/metrics/logs)
	// 3. Bridge zerolog -> OTel Logs (still prints to stdout; additionally exports via OTLP to the collector)
	ctx, stopTelemetry, err := telemetry.Observe(ctx, name, version, env, hookFn,
		telemetry.WithEndpoint(viper.GetString("OTEL_ENDPOINT")),
		telemetry.WithInsecure(),
		telemetry.WithEnabled(viper.GetBool("OTEL_ENABLED")))
	if err != nil {
		shutdownLogger.Fatal().Err(err).Msg(fmt.Sprintf("unable to setup otel telemetry: %v", err))
	}
	defer stopTelemetry(ctx, 15*time.Second)

	// 4. Core resources
	pool, err := resources.CreateDatabaseConnectionPool(ctx)
	if err != nil {
		shutdownLogger.Fatal().Err(err).Msg(fmt.Sprintf("unable to create database connection pool: %v", err))
	}

	redisClient, redisClosable, err := resources.CreateRedisClient(ctx)
	if err != nil {
		pool.Close()
		shutdownLogger.Fatal().Err(err).Msg(fmt.Sprintf("unable to create redis client: %v", err))
	}

	// 5. Wiring
	repo := core.NewRepository(pool)

	err = repo.EnsureSchema(ctx)
	if err != nil {
		shutdownLogger.Fatal().Err(err).Msg(fmt.Sprintf("unable to prepare database schema: %v", err))
	}

	catalog := core.NewCatalog(repo)

	err = catalog.Load(ctx)
	if err != nil {
		startupLogger.Error().Err(err).Msg("initial catalog load failed, starting with an empty catalog")
	}

	attendance := core.NewAttendance(repo, catalog, core.NewRedisSessionStore(redisClient))
	importer := core.NewImporter(repo, catalog)
	handlers := core.NewHandlers(repo, catalog, attendance, importer)

	limiter := middlewares.NewRateLimiter(middlewares.LimiterConfig{
		RPS:     viper.GetFloat64("RATE_LIMIT_RPS"),
		Burst:   viper.GetInt("RATE_LIMIT_BURST"),
		IdleTTL: 10 * time.Minute,
	})
	bySession := func(gctx *gin.Context) string {
		session, ok := core.SessionFrom(gctx)
		if !ok {
			return gctx.ClientIP()
		}

		return session.ID
	}

	// 6. Daemons/servers setup

	gin.SetMode(gin.ReleaseMode)

	restHandler := gin.Default()
	restHandler.Use(resources.TracerMiddleware(name))
	restHandler.Use(resources.MeterMiddleware(name))

	public := restHandler.Group("/", core.SessionMiddleware(attendance, viper.GetString("SESSION_COOKIE")))
	public.GET("/events", handlers.GetEvents)
	public.GET("/events/:id", handlers.GetEvent)
	public.GET("/me/events", handlers.GetMyEvents)
	public.POST("/events/:id/confirmation", limiter.Middleware(bySession), handlers.PostConfirmation)
	public.DELETE("/events/:id/confirmation", limiter.Middleware(bySession), handlers.DeleteConfirmation)

	admin := restHandler.Group("/admin")
	if user := viper.GetString("ADMIN_USER"); user != "" {
		admin.Use(gin.BasicAuth(gin.Accounts{user: viper.GetString("ADMIN_PASSWORD")}))
	} else {
		startupLogger.Warn().Msg("ADMIN_USER is not set, admin routes are unauthenticated")
	}

	admin.POST("/events", handlers.PostEvents)
	admin.POST("/events/reload", handlers.PostReload)
	admin.POST("/events/import", handlers.PostImport)
	admin.GET("/events/import/status", handlers.GetImportStatus)
	admin.GET("/confirmations", handlers.GetConfirmations)
	admin.DELETE("/confirmations/:id", handlers.DeleteConfirmationById)

	debugHandler := http.NewServeMux()
	debugHandler.HandleFunc("/debug/pprof/", pprof.Index)
	debugHandler.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	debugHandler.HandleFunc("/debug/pprof/profile", pprof.Profile)
	debugHandler.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	debugHandler.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// 7. Daemons/servers lifecycle

	errChan := make(chan error, 16)

	runCtx, cancelRunFn := context.WithCancel(ctx)
	defer cancelRunFn()

	go limiter.Run(runCtx)

	baseServer := servers.NewBaseServer("base-server", pool, redisClosable)
	stopBase := servers.Manage(ctx, "base-server", baseServer, errChan)
	defer stopBase(ctx, 15*time.Second)

	debugServer := servers.NewHttpServer("debug-server",
		servers.NewServer("localhost", viper.GetString("DEBUG_PORT"), debugHandler))
	stopDebug := servers.Manage(ctx, "debug-server", debugServer, errChan)
	defer stopDebug(ctx, 15*time.Second)

	restServer := servers.NewHttpServer("rest-server",
		servers.NewServer(viper.GetString("HTTP_HOST"), viper.GetString("HTTP_PORT"), restHandler))
	stopRest := servers.Manage(ctx, "rest-server", restServer, errChan)
	defer stopRest(ctx, 15*time.Second)

	startupLogger.Info().Msg("application running")

	// 8. Wait for shutdown signal

	notifyCtx, cancelNotifyFn := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancelNotifyFn()

	select {
	case <-notifyCtx.Done():
		startupLogger.Info().Msg("application shutdown requested")
	case runErr := <-errChan:
		shutdownLogger.Error().Err(runErr).Msg("runtime error")
	}
}
