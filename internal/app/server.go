package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"scms-access-service/internal/config"
	"scms-access-service/internal/db"
	"scms-access-service/internal/domain/identity"
	xerrors "scms-access-service/internal/pkg/errors"
	"scms-access-service/internal/pkg/jwt"
	"scms-access-service/internal/pkg/rbac"
	"scms-access-service/internal/pkg/session"
	"scms-access-service/internal/provider/local"
	"scms-access-service/internal/repository/postgres"
	"scms-access-service/internal/service/access"
	"scms-access-service/internal/service/audit"
	ws "scms-access-service/internal/websocket"
)

// Server owns the wired application: stores, provider, controller, hub and
// the HTTP surface in front of them.
type Server struct {
	cfg    config.AppConfig
	logger *zap.Logger

	pool  *pgxpool.Pool
	redis *redis.Client

	controller *access.Controller
	hub        *ws.Hub
	hubCancel  context.CancelFunc

	httpServer *http.Server
}

// NewServer connects the backing stores and assembles the service.
func NewServer(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*Server, error) {
	pool, err := db.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	jwtManager, err := jwt.LoadAndBuild(cfg.JWT)
	if err != nil {
		pool.Close()
		redisClient.Close()
		return nil, fmt.Errorf("failed to load jwt keys: %w", err)
	}

	sessions := session.NewManager(redisClient)
	limiter := session.NewRateLimiter(redisClient)

	credRepo := postgres.NewCredentialRepository(pool)
	profileRepo := postgres.NewProfileRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)

	provider := local.NewProvider(credRepo, limiter, logger)
	recorder := audit.NewRecorder(auditRepo, logger)
	controller := access.New(provider, provider, profileRepo, recorder, logger)
	// Provider callbacks outlive startup, so the subscription runs on a
	// background context rather than the bootstrap one.
	controller.Initialize(context.Background())

	if err := ensureAdminAccount(ctx, cfg, credRepo, profileRepo, logger); err != nil {
		logger.Error("failed to seed admin account", zap.Error(err))
	}

	hub := ws.NewHub(controller, logger)

	router := SetupRouter(controller, hub, jwtManager, sessions, logger)

	return &Server{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		redis:      redisClient,
		controller: controller,
		hub:        hub,
		httpServer: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Run starts the hub and serves HTTP until the listener fails or Shutdown
// is called.
func (s *Server) Run() error {
	hubCtx, cancel := context.WithCancel(context.Background())
	s.hubCancel = cancel
	go s.hub.Run(hubCtx)

	s.logger.Info("server listening", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and releases connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	if s.hubCancel != nil {
		s.hubCancel()
	}
	s.controller.Close()
	s.redis.Close()
	s.pool.Close()

	return err
}

// ensureAdminAccount provisions the bootstrap admin when configured.
// Registration only ever creates managers, so the first admin has to come
// from here.
func ensureAdminAccount(ctx context.Context, cfg config.AppConfig, creds *postgres.CredentialRepository, profiles *postgres.ProfileRepository, logger *zap.Logger) error {
	if cfg.SeedAdminEmail == "" || cfg.SeedAdminPassword == "" {
		logger.Info("admin seeding skipped, no seed credentials configured")
		return nil
	}

	existing, err := creds.FindByEmail(ctx, cfg.SeedAdminEmail)
	if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		return fmt.Errorf("failed to check for existing admin: %w", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.SeedAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	cred := &identity.Credential{
		ID:           ulid.Make().String(),
		Email:        cfg.SeedAdminEmail,
		PasswordHash: string(hash),
	}
	if err := creds.Create(ctx, cred); err != nil {
		return fmt.Errorf("failed to create admin credential: %w", err)
	}

	profile := &identity.Profile{
		ID:       cred.ID,
		Username: cfg.SeedAdminName,
		Email:    cfg.SeedAdminEmail,
		Role:     rbac.RoleAdmin,
	}
	if err := profiles.Set(ctx, cred.ID, profile); err != nil {
		return fmt.Errorf("failed to create admin profile: %w", err)
	}

	logger.Info("admin account seeded", zap.String("email", cfg.SeedAdminEmail))
	return nil
}
