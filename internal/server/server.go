package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"sqlgateway/internal/config"
	"sqlgateway/internal/database"
	"sqlgateway/internal/handlers"
	"sqlgateway/internal/logger"
	"sqlgateway/internal/middlewares"
	"sqlgateway/internal/repositories"
	"sqlgateway/internal/routes"
	"sqlgateway/internal/services"
	"sqlgateway/internal/utils"
)

// Server owns the HTTP server and every long-lived resource behind it.
type Server struct {
	HTTP *http.Server

	pool     *pgxpool.Pool
	rdb      *redis.Client
	registry *services.ConnectionRegistry
	log      *logger.Logger
}

func NewServer(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Server, error) {
	pool, err := database.Connect(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if err := database.RunMigrations(pool); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("catalog migrations applied")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Fail fast with a clear message
	{
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			pool.Close()
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info("connected to Redis", "addr", cfg.Redis.Addr)
	}

	key, err := utils.DeriveCredentialKey(cfg.Auth.CredentialKey)
	if err != nil {
		pool.Close()
		rdb.Close()
		return nil, err
	}
	sealer, err := utils.NewCredentialSealer(key)
	if err != nil {
		pool.Close()
		rdb.Close()
		return nil, err
	}

	// Dependency injection
	targetRepo := repositories.NewDatabaseTargetRepository(pool, sealer)
	memberRepo := repositories.NewOrganizationMemberRepository(pool)
	historyRepo := repositories.NewQueryHistoryRepository(pool)
	redisRepo := repositories.NewRedisRepository(rdb)

	opener := services.NewSQLOpener(services.HandleOptions{
		MaxOpenConns:    cfg.Gateway.HandleMaxOpen,
		MaxIdleConns:    cfg.Gateway.HandleMaxIdle,
		ConnMaxIdleTime: cfg.Gateway.HandleConnMaxIdle,
	})
	registry := services.NewConnectionRegistry(targetRepo, opener, services.NewSchemaProber(log), services.RegistryConfig{
		ProbeTimeout: cfg.Gateway.ProbeTimeout,
		PingTimeout:  cfg.Gateway.HandlePingTimeout,
	}, log)
	access := services.NewAccessControl(registry, memberRepo, log)
	queryService := services.NewQueryService(services.NewStatementValidator(), access, registry, historyRepo, cfg.Gateway.QueryTimeout, log)

	authHandler := handlers.NewAuthHandler(redisRepo, log)
	targetHandler := handlers.NewTargetHandler(registry, access, log)
	queryHandler := handlers.NewQueryHandler(queryService, cfg.Gateway.HistoryLimit, log)

	router := newRouter(cfg, log)
	routes.RegisterRoutes(router, middlewares.Authenticate([]byte(cfg.Auth.AccessTokenSecret), redisRepo), authHandler, targetHandler, queryHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Gateway.QueryTimeout + 10*time.Second,
	}

	return &Server{
		HTTP:     httpServer,
		pool:     pool,
		rdb:      rdb,
		registry: registry,
		log:      log,
	}, nil
}

func newRouter(cfg *config.Config, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middlewares.RequestLogger(log))

	corsConfig := cors.DefaultConfig()
	origins := strings.Split(cfg.Server.AllowedOrigins, ",")
	if len(origins) == 1 && strings.TrimSpace(origins[0]) == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AddAllowHeaders("Authorization")
	router.Use(cors.New(corsConfig))

	return router
}

// Close releases live target handles, then the catalog and Redis clients.
func (s *Server) Close() {
	s.registry.Close()
	if err := s.rdb.Close(); err != nil {
		s.log.Warn("failed to close Redis client", "error", err)
	}
	s.pool.Close()
}
