package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"io"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/patient-sheets/internal/compliance"
	appconfig "github.com/wolfman30/patient-sheets/internal/config"
	"github.com/wolfman30/patient-sheets/internal/selection"
	"github.com/wolfman30/patient-sheets/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// BuildSelectionStore picks the durable store for the selected spreadsheet:
// Redis when a client is given, otherwise the local SQLite file. The returned
// closer releases the store's own resources and never closes redisClient.
func BuildSelectionStore(ctx context.Context, cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (selection.Store, io.Closer, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if redisClient != nil {
		logger.Info("selection state stored in redis")
		return selection.NewRedisStore(redisClient, ""), nopCloser{}, nil
	}
	if cfg == nil || strings.TrimSpace(cfg.LocalStatePath) == "" {
		logger.Warn("no durable selection store configured; selection is lost on restart")
		return selection.NewMemoryStore(), nopCloser{}, nil
	}
	store, err := selection.OpenSQLiteStore(ctx, cfg.LocalStatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: open local state: %w", err)
	}
	logger.Info("selection state stored locally", "path", cfg.LocalStatePath)
	return store, store, nil
}

// BuildAuditService opens the PHI access log database. With no DATABASE_URL
// access events are discarded and the returned *sql.DB is nil.
func BuildAuditService(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (compliance.Auditor, *sql.DB, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set; PHI access events are not recorded")
		return compliance.NopAuditor{}, nil, nil
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: open audit database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping audit database: %w", err)
	}
	return compliance.NewAuditService(db), db, nil
}
