package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/launchbase/launchbase-api/internal/config"
	"github.com/launchbase/launchbase-api/internal/domain/coupon"
	"github.com/launchbase/launchbase-api/internal/domain/credit"
	"github.com/launchbase/launchbase-api/internal/domain/payment"
	"github.com/launchbase/launchbase-api/internal/domain/plan"
	"github.com/launchbase/launchbase-api/internal/domain/user"
	"github.com/launchbase/launchbase-api/internal/middleware"
	"github.com/launchbase/launchbase-api/internal/pkg/database"
	"github.com/launchbase/launchbase-api/internal/pkg/jwt"
	"github.com/launchbase/launchbase-api/internal/pkg/logger"
	"github.com/launchbase/launchbase-api/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting LaunchBase API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	cache, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(cache)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	loc, err := time.LoadLocation(cfg.SweepTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.SweepTimezone).Msg("Invalid sweep timezone")
	}

	// ---------- Repositories ----------
	userRepo := user.NewRepository(db)
	creditRepo := credit.NewPostgresRepository(db)
	planRepo := plan.NewPostgresRepository(db)
	couponRepo := coupon.NewPostgresRepository(db)

	// ---------- Services ----------
	creditSvc := credit.NewService(creditRepo, cache)

	pricing := credit.DefaultPricing()
	if err := pricing.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid pricing configuration")
	}

	// Fail fast on malformed allocation rules instead of discovering them
	// on the first plan change.
	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	grants, err := planRepo.LoadAllGrants(startupCtx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load plan credit grants")
	}
	if err := plan.ValidateGrants(grants); err != nil {
		log.Fatal().Err(err).Msg("Invalid plan credit grants")
	}

	allocator := plan.NewAllocator(planRepo, creditSvc, plan.DefaultRegisterGrants(), cfg.CreditsEnabled)
	sweeper := credit.NewSweeper(creditSvc, creditRepo, credit.SweeperConfig{
		BatchSize:   cfg.SweepBatchSize,
		Concurrency: cfg.SweepConcurrency,
		Location:    loc,
	})
	couponSvc := coupon.NewService(couponRepo, planRepo, userRepo, allocator)
	paymentSvc := payment.NewService(creditSvc, userRepo, allocator)

	// ---------- Handlers ----------
	userHandler := user.NewHandler(userRepo, planRepo, creditSvc, allocator)
	creditHandler := credit.NewHandler(creditSvc, pricing, sweeper)
	couponHandler := coupon.NewHandler(couponSvc)
	paymentHandler := payment.NewHandler(paymentSvc)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		response.OK(w, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/app", func(r chi.Router) {
			r.Use(middleware.Auth(jwtService))
			r.Mount("/", userHandler.Routes())
			r.Mount("/credits", creditHandler.Routes())
			r.Mount("/coupons", couponHandler.Routes())
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Auth(jwtService))
			r.Use(middleware.RequireAdmin)
			r.Mount("/credits", creditHandler.AdminRoutes())
			r.Mount("/coupons", couponHandler.AdminRoutes())
		})
	})

	r.Mount("/webhooks", paymentHandler.Routes())

	r.Route("/cron", func(r chi.Router) {
		r.Use(middleware.CronAuth(cfg.CronSecret))
		r.Mount("/", creditHandler.CronRoutes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
