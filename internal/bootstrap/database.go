package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	infralogger "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/config"
)

// Database connection timeout.
const dbPingTimeout = 5 * time.Second

// ConnectDatabase opens and verifies the capture log database.
func ConnectDatabase(cfg *config.PostgresSinkConfig, log infralogger.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	log.Info("Database connected",
		infralogger.String("host", cfg.Host),
		infralogger.Int("port", cfg.Port),
		infralogger.String("database", cfg.Database),
	)

	return db, nil
}
