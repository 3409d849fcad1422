package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"bloodbank-auth/internal/auth"
	"bloodbank-auth/internal/db"
	"bloodbank-auth/internal/emergency"
	"bloodbank-auth/internal/httpx"
	"bloodbank-auth/internal/maintenance"
	"bloodbank-auth/internal/notify"
	"bloodbank-auth/internal/observability"
	"bloodbank-auth/internal/organization"
	"bloodbank-auth/internal/otp"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Port    string
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger()
	logger.SetLevel(cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}
	observability.InitMetrics()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if options.RunMigrations && cfg.RunMigrations {
		applied, err := db.RunMigrations(ctx, database)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	var redisClient *redis.Client
	otpStore := otp.Store(otp.NewMemoryStore())
	if cfg.RedisURL != "" {
		redisClient, err = otp.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("open redis: %w", err)
		}
		otpStore = otp.NewRedisStore(redisClient)
	} else {
		logger.Warn("otp_store_in_memory", map[string]any{"reason": "REDIS_URL not set"})
	}

	closeAll := func() error {
		observability.FlushSentry()
		var errs []error
		if redisClient != nil {
			errs = append(errs, redisClient.Close())
		}
		errs = append(errs, database.Close())
		return errors.Join(errs...)
	}

	tokens, err := auth.NewTokenIssuer(cfg.Tokens)
	if err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("init tokens: %w", err)
	}

	mailer, err := emailChannel(cfg, logger)
	if err != nil {
		_ = closeAll()
		return nil, err
	}
	whatsApp, err := whatsAppChannel(cfg, logger)
	if err != nil {
		_ = closeAll()
		return nil, err
	}

	responder := httpx.NewResponder(logger, cfg.Production)

	authRepo := auth.NewRepository(database)
	orgRepo := organization.NewRepository(database)
	authService := auth.NewService(
		authRepo,
		tokens,
		auth.NewPasswordHasher(cfg.BcryptCost),
		auth.WithOrganizations(orgRepo),
		auth.WithLockoutPolicy(cfg.Lockout),
		auth.WithLogger(logger),
	)
	authHandler := auth.NewHandler(authService, responder, cfg.Production)
	guard := auth.NewGuard(authService, responder)
	loginLimiter := auth.NewLoginRateLimiter(authRepo, cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow, logger, responder)

	otpService := otp.NewService(otpStore, authService, tokens, mailer, otp.WithLogger(logger))
	otpHandler := otp.NewHandler(otpService, responder)
	otpLimiter := otp.NewRequestLimiter(cfg.OTPRequestInterval, cfg.OTPRequestBurst, responder)

	emergencyHandler := emergency.NewHandler(emergency.NewService(whatsApp, logger, cfg.EmergencySendDelay), responder)
	orgHandler := organization.NewHandler(orgRepo, authService, responder)
	cleanupHandler := maintenance.NewCleanupHandler(authRepo, logger, responder, cfg.Cleanup)

	mux := routes{
		guard:         guard,
		users:         authHandler,
		loginLimiter:  loginLimiter,
		otp:           otpHandler,
		otpLimiter:    otpLimiter,
		emergency:     emergencyHandler,
		organizations: orgHandler,
		cleanup:       cleanupHandler,
		health:        healthHandler(database, redisClient),
	}.mux()

	handler := httpx.Chain(mux,
		func(next http.Handler) http.Handler { return observability.RecoverMiddleware(logger, next) },
		func(next http.Handler) http.Handler { return observability.RequestLoggingMiddleware(logger, next) },
		observability.MetricsMiddleware,
		httpx.CORS(cfg.CORSOrigins),
	)

	return &Runtime{
		Handler: handler,
		Port:    cfg.Port,
		Close:   closeAll,
	}, nil
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return database, nil
}

func emailChannel(cfg Config, logger *observability.Logger) (notify.Channel, error) {
	if cfg.SMTP.Host == "" {
		logger.Warn("email_channel_disabled", map[string]any{"reason": "EMAIL_HOST not set"})
		return notify.NewLogChannel("email", logger), nil
	}
	mailer, err := notify.NewSMTPMailer(cfg.SMTP)
	if err != nil {
		return nil, fmt.Errorf("init smtp: %w", err)
	}
	return mailer, nil
}

func whatsAppChannel(cfg Config, logger *observability.Logger) (notify.Channel, error) {
	if cfg.WhatsAppURL == "" {
		logger.Warn("whatsapp_channel_disabled", map[string]any{"reason": "WHATSAPP_API_URL not set"})
		return notify.NewLogChannel("whatsapp", logger), nil
	}
	client, err := notify.NewWhatsApp(cfg.WhatsAppURL, cfg.WhatsAppToken)
	if err != nil {
		return nil, fmt.Errorf("init whatsapp: %w", err)
	}
	return client, nil
}

func healthHandler(database *sql.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unreachable"
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body["redis"] = "unreachable"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
