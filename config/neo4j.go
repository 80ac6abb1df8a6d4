package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ConnectNeo4j creates a Neo4j driver and verifies connectivity.
func ConnectNeo4j(log *slog.Logger, cfg Neo4jConfig) (neo4j.DriverWithContext, error) {
	log.Info("connecting to neo4j", "uri", cfg.URI, "database", cfg.Database, "username", cfg.Username)

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}

	return driver, nil
}
