// AUTH SERVICE - cmd/auth/main.go
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
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"finvault/internal/auth"
	"finvault/internal/blacklist"
	"finvault/internal/handler"
	"finvault/internal/mfa"
	"finvault/internal/middleware"
	"finvault/internal/monitoring"
	"finvault/internal/notification"
	"finvault/internal/repository/postgres"
	"finvault/internal/session"
	"finvault/internal/token"
	"finvault/pkg/cache"
	"finvault/pkg/config"
	"finvault/pkg/logger"
	"finvault/pkg/mailer"
	"finvault/pkg/validator"
)

func main() {
	// Load configuration
	_ = godotenv.Load()
	cfg := config.Load()

	// Initialize logger
	log := logger.New("auth-service")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	// Connect to database
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// Connect to Redis. An unreachable cache is tolerated; blacklist checks
	// degrade to the store.
	redisCache := cache.New(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ProbeInterval)
	defer redisCache.Close()

	if !redisCache.Healthy(context.Background()) {
		log.Warn("Redis unreachable at startup, blacklist running store-only", map[string]interface{}{
			"addr": cfg.Redis.URL,
		})
	}

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)
	blacklistRepo := postgres.NewBlacklistRepository(db)
	mfaRepo := postgres.NewMFARepository(db)
	eventRepo := postgres.NewSecurityEventRepository(db)

	// Initialize services
	codec, err := token.NewCodec(cfg.JWT.Secret, cfg.JWT.MinSecretLength, cfg.JWT.AccessTokenTTL)
	if err != nil {
		log.Fatal("Invalid JWT configuration", map[string]interface{}{"error": err.Error()})
	}

	blacklistSvc := blacklist.NewService(blacklistRepo, redisCache, cfg.Redis.CallTimeout, log)
	sessionMgr := session.NewManager(sessionRepo, blacklistSvc, codec, session.Config{
		RefreshTokenTTL: cfg.Session.RefreshTokenTTL,
		SessionTTL:      cfg.Session.SessionTTL,
		QueryTimeout:    cfg.Database.QueryTimeout,
	}, log)
	mfaSvc := mfa.NewService(mfaRepo, cfg.MFA.Issuer, cfg.MFA.RecoveryCodeCount, log)
	monitor := monitoring.NewMonitor(eventRepo, monitoring.Config{
		BruteForceThreshold: cfg.Security.BruteForceThreshold,
		BruteForceWindow:    cfg.Security.BruteForceWindow,
		TravelWindow:        cfg.Security.TravelWindow,
		RecentLoginSample:   cfg.Security.RecentLoginSample,
	}, log)
	authSvc := auth.NewService(
		auth.NewBcryptVerifier(userRepo),
		mfaSvc,
		sessionMgr,
		monitor,
		auth.NopResolver{},
		log,
	)

	// Security alert delivery falls back to log lines when SMTP is not set.
	var sender notification.Sender = notification.LogSender{Logger: log}
	m := mailer.New(mailer.Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
		UseTLS:   cfg.Email.SMTPUseTLS,
	})
	if m.Configured() {
		sender = notification.NewMailSender(m, userRepo)
	}
	dispatcher := notification.NewDispatcher(monitor, sender, cfg.Security.NotifyInterval, log)

	// Initialize handlers
	val := validator.New()
	authHandler := handler.NewAuthHandler(authSvc, sessionMgr, val, log)
	mfaHandler := handler.NewMFAHandler(mfaSvc, authSvc, val, log)

	// Setup router
	r := mux.NewRouter()

	// Middleware
	r.Use(middleware.CORS)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.NewRateLimiter(redisCache.Client(), 60, time.Minute).Limit)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery)
	r.Use(middleware.BodyLimit(1 << 20))

	// Routes
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/api/v1/auth/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/v1/auth/refresh", authHandler.Refresh).Methods("POST")

	// Protected routes
	authMW := middleware.NewAuthMiddleware(sessionMgr)
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW.Authenticate)
	api.HandleFunc("/auth/logout", authHandler.Logout).Methods("POST")
	api.HandleFunc("/auth/logout-all", authHandler.LogoutAll).Methods("POST")
	api.HandleFunc("/auth/sessions", authHandler.ListSessions).Methods("GET")
	api.HandleFunc("/auth/mfa/enroll", mfaHandler.Enroll).Methods("POST")
	api.HandleFunc("/auth/mfa/confirm", mfaHandler.Confirm).Methods("POST")
	api.HandleFunc("/auth/mfa/disable", mfaHandler.Disable).Methods("POST")

	// Background work: expired-row sweeps and alert dispatch.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go dispatcher.Run(bgCtx)
	go func() {
		ticker := time.NewTicker(cfg.Session.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				sessionMgr.SweepExpired(bgCtx)
			}
		}
	}()

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.Info("Auth service starting", map[string]interface{}{"port": cfg.Server.Port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)
	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Server stopped", nil)
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	_ = r
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"auth"}`))
}
