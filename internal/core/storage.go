package core

import (
	"context"
	"fmt"

	"docrepo/internal/infra/persistence/bolt"
	"docrepo/internal/infra/persistence/memory"
	"docrepo/internal/infra/persistence/mysql"
	"docrepo/internal/infra/persistence/postgres"
	"docrepo/internal/infra/persistence/sqlite"
	"docrepo/pkg/domain"
)

// OpenDocumentStore constructs the DocumentStore selected by cfg.
func OpenDocumentStore(ctx context.Context, cfg StorageConfig) (domain.DocumentStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return opened(sqlite.NewStore(ctx, cfg.SQLitePath))
	case StoragePostgres:
		return opened(postgres.NewStore(ctx, cfg.PostgresDSN))
	case StorageMySQL:
		return opened(mysql.NewStore(ctx, cfg.MySQLDSN))
	case StorageBolt:
		return opened(bolt.NewStore(cfg.BoltPath))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// opened keeps a failed constructor's typed nil out of the interface.
func opened[S domain.DocumentStore](store S, err error) (domain.DocumentStore, error) {
	if err != nil {
		return nil, err
	}
	return store, nil
}
