package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/talentbase/backend/handlers"
	"github.com/talentbase/backend/internal/attempts"
	"github.com/talentbase/backend/internal/config"
	"github.com/talentbase/backend/internal/crypto"
	"github.com/talentbase/backend/internal/database"
	"github.com/talentbase/backend/internal/realtime"
	"github.com/talentbase/backend/internal/sessions"
	"github.com/talentbase/backend/internal/tokens"
	"github.com/talentbase/backend/internal/upstream"
	"github.com/talentbase/backend/pkg/logger"
	"github.com/talentbase/backend/pkg/metrics"
	"github.com/talentbase/backend/pkg/middleware"
)

var startTime = time.Now()

const (
	sessionCleanupEvery = time.Hour
	sessionMaxIdle      = 30 * 24 * time.Hour
)

func main() {
	// LOG_LEVEL env: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: upstream=%v mongo=%v redis=%v", cfg.Upstream.URL != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "")

	enc, err := crypto.NewEncryptor(cfg.Security.EncryptionKey)
	if err != nil {
		logger.Fatalf("failed to build encryptor: %v", err)
	}

	// Redis backs the distributed rate limiter and the token blacklist;
	// both degrade gracefully without it.
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			logger.Infof("connected to Redis at %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	// MongoDB holds sessions and login attempt counters. Without a URI
	// (dev/test) everything runs on in-memory stores.
	var (
		sessionRepo  sessions.Repository
		attemptStore attempts.Store
	)
	if cfg.MongoDB.URI != "" {
		client := connectMongoWithRetry(cfg)
		defer func() { _ = client.Disconnect(context.Background()) }()
		db := client.Database(cfg.MongoDB.Database)
		sessionRepo = sessions.NewMongoRepository(db.Collection("sessions"))
		attemptStore = attempts.NewMongoStore(db.Collection("login_attempts"))
	} else {
		logger.Warnf("MONGODB_URI not set, using in-memory stores (sessions do not survive restarts)")
		sessionRepo = sessions.NewMemoryRepository()
		attemptStore = attempts.NewMemoryStore()
	}

	upstreamClient := upstream.NewClient(cfg.Upstream.URL, cfg.Upstream.ServiceKey, cfg.Upstream.Timeout)
	sessionsSvc := sessions.NewService(sessionRepo, enc, upstreamClient, cfg.Security.RefreshMargin)
	throttle := attempts.NewThrottle(attemptStore, attempts.Config{
		Window:           cfg.Security.AttemptWindow,
		CaptchaThreshold: cfg.Security.CaptchaThreshold,
		BlockThreshold:   cfg.Security.BlockThreshold,
		FailClosed:       cfg.Security.ThrottleFailClosed,
	})
	issuer := tokens.NewIssuer(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)
	blacklist := tokens.NewBlacklist(redisClient)
	hub := realtime.NewHub(0)
	gateway := realtime.NewGateway(hub, sessionsSvc)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(corsMiddleware())

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		deps := gin.H{
			"upstream": cfg.Upstream.URL != "",
			"redis":    redisClient != nil || cfg.Redis.Host == "",
			"storage":  true,
		}
		ready := deps["upstream"] == true && deps["redis"] == true
		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessionAuth := middleware.SessionAuth(sessionsSvc, upstreamClient)
	jwtAuth := middleware.JWTAuth(issuer, blacklist, sessionsSvc, upstreamClient)

	api := r.Group("/api")
	authHandler := handlers.NewAuthHandler(upstreamClient, sessionsSvc, throttle, issuer, blacklist, hub)
	authHandler.Register(api, sessionAuth, jwtAuth)

	r.GET("/ws/notifications", gin.WrapH(gateway))

	// periodic housekeeping: drop long-idle sessions and stale attempt
	// counters
	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	defer cancelCleanup()
	go func() {
		ticker := time.NewTicker(sessionCleanupEvery)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				if n, err := sessionsSvc.Cleanup(cleanupCtx, sessionMaxIdle); err != nil {
					logger.Warnf("session cleanup failed: %v", err)
				} else if n > 0 {
					logger.Infof("session cleanup removed %d idle sessions", n)
				}
				if _, err := throttle.Sweep(cleanupCtx); err != nil {
					logger.Warnf("attempt sweep failed: %v", err)
				}
			}
		}
	}()

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("starting auth service on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

func connectMongoWithRetry(cfg *config.Config) *mongo.Client {
	const maxAttempts = 5
	backoff := time.Second
	var client *mongo.Client
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client, err = database.ConnectMongo(context.Background(), cfg.MongoDB.URI, cfg.MongoDB.Timeout)
		if err == nil {
			logger.Infof("connected to MongoDB")
			return client
		}
		logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	logger.Fatalf("could not connect to MongoDB after %d attempts: %v", maxAttempts, err)
	return nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Session-Id")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
