package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/comfortindex/comfort-dashboard/internal/auth"
	"github.com/comfortindex/comfort-dashboard/internal/cache"
	"github.com/comfortindex/comfort-dashboard/internal/circuitbreaker"
	"github.com/comfortindex/comfort-dashboard/internal/client"
	"github.com/comfortindex/comfort-dashboard/internal/config"
	httphandler "github.com/comfortindex/comfort-dashboard/internal/http"
	"github.com/comfortindex/comfort-dashboard/internal/lifecycle"
	"github.com/comfortindex/comfort-dashboard/internal/observability"
	"github.com/comfortindex/comfort-dashboard/internal/pipeline"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			CoolOff:          cfg.CircuitBreakerCoolOff,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("weather_api", from.String(), to.String())
				observability.SetCircuitBreakerStateGauge("weather_api", float64(to))
			},
		})
		weatherClient.SetCircuitBreaker(cb)
		observability.SetCircuitBreakerStateGauge("weather_api", float64(circuitbreaker.StateClosed))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("cool_off", cfg.CircuitBreakerCoolOff))
	}

	var (
		cacheSvc  cache.Cache
		cachePing func() error
		cacheStop func() error
	)
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		cacheSvc, cachePing, cacheStop = mc, mc.Ping, mc.Close
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "redis":
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cacheSvc, cachePing, cacheStop = rc, rc.Ping, rc.Close
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	p := pipeline.New(weatherClient, cacheSvc, cfg.Cities, cfg.CacheTTL, logger,
		cfg.CoalesceEnabled, cfg.CoalesceTimeout)

	seed := make([]auth.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		seed = append(seed, auth.User{Email: u.Email, PasswordHash: u.PasswordHash})
	}
	store := auth.NewUserStore(seed)
	authenticator := auth.NewAuthenticator(store, cfg.JWTSecret, cfg.TokenTTL)

	healthConfig := &httphandler.HealthConfig{
		ErrorRateWindow: cfg.HealthWindow,
		ErrorRatePct:    cfg.HealthErrorPct,
		CachePing:       cachePing,
	}
	handler := httphandler.NewHandler(p, weatherClient, authenticator, store, healthConfig, logger)

	observability.RegisterRateLimitGauges(cfg.HealthWindow)

	if cfg.WarmOnStart {
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := p.Refresh(warmCtx); err != nil {
			logger.Warn("startup batch refresh failed", zap.Error(err))
		}
		warmCancel()
	}
	if cfg.WarmInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.WarmInterval)
			defer ticker.Stop()
			for range ticker.C {
				if lifecycle.IsShuttingDown() {
					return
				}
				if _, err := p.Refresh(context.Background()); err != nil {
					logger.Warn("periodic batch refresh failed", zap.Error(err))
				}
			}
		}()
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(mux.MiddlewareFunc(httphandler.MetricsMiddleware))
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(httphandler.RateLimitMiddleware(limiter))
	apiRouter.HandleFunc("/login", handler.PostLogin).Methods("POST")
	apiRouter.HandleFunc("/signup", handler.PostSignup).Methods("POST")
	apiRouter.HandleFunc("/logout", handler.PostLogout).Methods("POST")
	apiRouter.HandleFunc("/auth/check", handler.GetAuthCheck).Methods("GET")

	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(httphandler.RateLimitMiddleware(limiter))
	weatherRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	weatherRouter.Use(httphandler.AuthMiddleware(authenticator))
	weatherRouter.HandleFunc("", handler.GetWeather).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", ":"+cfg.ServerPort),
			zap.Int("cities", len(cfg.Cities)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed",
			zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if cacheStop != nil {
		if err := cacheStop(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
