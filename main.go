package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"fixnearby-server/authz"
	"fixnearby-server/cache"
	"fixnearby-server/config"
	"fixnearby-server/database"
	"fixnearby-server/events"
	"fixnearby-server/jobs"
	"fixnearby-server/logging"
	"fixnearby-server/mailer"
	"fixnearby-server/media"
	"fixnearby-server/middleware"
	"fixnearby-server/razorpay"
	"fixnearby-server/routes"
	"fixnearby-server/services"
	"fixnearby-server/supervisor"
	"fixnearby-server/validation"
	"fixnearby-server/websocket"
)

// limiterIdle is how long an unused rate limiter bucket is kept
const limiterIdle = 10 * time.Minute

func main() {
	if err := godotenv.Load(); err != nil {
		logging.Info().Msg("No .env file found, using system environment variables")
	}

	if err := config.Load(); err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg := config.AppConfig

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	gin.SetMode(cfg.Server.GinMode)
	if err := validation.RegisterGin(); err != nil {
		logging.Fatal().Err(err).Msg("Failed to register validators")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := database.SeedAdmin(ctx, db, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		logging.Fatal().Err(err).Msg("Failed to seed admin account")
	}
	store := database.NewStore(db)
	defer store.Close()

	health := map[string]routes.HealthChecker{"database": store}

	var otpStore services.OTPStore
	redisStore, err := cache.NewRedisStore(ctx, cfg.Redis.URL)
	if err != nil {
		logging.Warn().Err(err).Msg("Redis unavailable, keeping OTPs in memory")
		otpStore = cache.NewMemoryStore()
	} else {
		defer redisStore.Close()
		otpStore = redisStore
		health["redis"] = redisStore
	}

	sender := mailer.New(mailer.Config{
		APIKey:    cfg.Mail.APIKey,
		BaseURL:   cfg.Mail.BaseURL,
		FromEmail: cfg.Mail.FromEmail,
		FromName:  cfg.Mail.FromName,
	})
	gateway := razorpay.NewClient(razorpay.Config{
		KeyID:         cfg.Payment.KeyID,
		KeySecret:     cfg.Payment.KeySecret,
		WebhookSecret: cfg.Payment.WebhookSecret,
		PayoutAccount: cfg.Payment.PayoutAccount,
		BaseURL:       cfg.Payment.BaseURL,
	})

	var uploader services.PhotoUploader
	if cfg.Media.CloudinaryURL != "" {
		u, err := media.NewUploader(cfg.Media.CloudinaryURL, cfg.Media.Folder)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize media uploader")
		}
		uploader = u
	} else {
		logging.Warn().Msg("CLOUDINARY_URL not set, profile photo uploads are disabled")
	}

	bus, err := events.NewBus()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event bus")
	}
	defer bus.Close()

	otp := services.NewOTPService(otpStore, sender, services.OTPSettings{
		TTL:         cfg.OTP.TTL,
		VerifiedTTL: cfg.OTP.VerifiedTTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
	})
	tokens := services.NewJWTService(store, services.JWTSettings{
		Secret:     cfg.JWT.Secret,
		AccessTTL:  time.Duration(cfg.JWT.ExpiryHours) * time.Hour,
		RefreshTTL: time.Duration(cfg.JWT.RefreshTTLHours) * time.Hour,
	})
	lifecycle := services.NewLifecycleService(store, otp, bus, services.LifecycleSettings{
		RejectionFee: cfg.Payment.RejectionFee,
		Currency:     cfg.Payment.Currency,
	})
	payments := services.NewPaymentService(store, gateway, bus, services.PaymentSettings{
		CommissionPercent: cfg.Payment.CommissionPercent,
		Currency:          cfg.Payment.Currency,
	})
	chat := services.NewChatService(store, bus)
	hub := websocket.NewHub(chat)
	notifications := services.NewNotificationService(store, hub)
	bus.AddHandler(notifications)
	bus.AddHandler(hub)

	enforcer, err := authz.NewEnforcer()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load authorization policy")
	}

	limiter := middleware.NewRateLimiter()
	origins := splitOrigins(cfg.Server.FrontendURL)
	router := routes.NewRouter(routes.Deps{
		Auth:           services.NewAuthService(store, otp, tokens),
		Tokens:         tokens,
		Lifecycle:      lifecycle,
		Payments:       payments,
		Chat:           chat,
		Notifications:  notifications,
		Repairers:      services.NewRepairerService(store, uploader),
		Admin:          services.NewAdminService(store),
		Enforcer:       enforcer,
		Hub:            hub,
		Limiter:        limiter,
		Health:         health,
		AllowedOrigins: origins,
	})

	addr := ":" + cfg.Server.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddBackground(bus)
	tree.AddBackground(hub)
	tree.AddBackground(jobs.NewPayoutRetry(cfg.Jobs, payments))
	tree.AddBackground(jobs.NewAvailabilityMatcher(cfg.Jobs, lifecycle))
	tree.AddBackground(jobs.NewTokenCleanup(cfg.Jobs, tokens))
	tree.AddBackground(jobs.New("rate_limiter_cleanup", limiterIdle, func(context.Context) (int, error) {
		return limiter.Cleanup(limiterIdle), nil
	}))
	tree.AddAPI(supervisor.NewHTTPService(server, addr, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", addr).Strs("origins", origins).Msg("FixNearby server starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervisor stopped unexpectedly")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("Some services did not stop in time")
	}
	logging.Info().Msg("Server exited")
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
