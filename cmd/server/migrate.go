package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/paltrust/feedback/internal/api"
	dbstore "github.com/paltrust/feedback/internal/db"
)

// MigrateIfNeeded imports a legacy JSON snapshot into a fresh SQLite file.
// It does nothing when the database already exists or there is no snapshot.
func MigrateIfNeeded(ctx context.Context, snapshotPath, sqlitePath, migrationsDir string) error {
	if sqlitePath == "" {
		return errors.New("sqlite path is required")
	}
	if _, err := os.Stat(sqlitePath); err == nil {
		return nil // already migrated
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("check sqlite file: %w", err)
	}
	if snapshotPath == "" {
		return nil
	}

	legacyStore, err := api.NewMemoryStoreFromPath(snapshotPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load legacy snapshot: %w", err)
	}
	snapshot := api.MemoryStoreSnapshot(legacyStore)
	if snapshot == nil {
		return nil
	}

	log.Printf("First run detected, importing legacy snapshot %s...", snapshotPath)

	dst, err := dbstore.OpenSQLite(sqlitePath, migrationsDir)
	if err != nil {
		return fmt.Errorf("init sqlite store: %w", err)
	}
	n, err := dst.ImportSnapshot(ctx, snapshot)
	if cerr := dst.Close(); cerr != nil {
		log.Printf("warning: failed to close sqlite db: %v", cerr)
	}
	if err != nil {
		// leave no half-imported file behind so the next start retries
		removeSQLiteFiles(sqlitePath)
		return fmt.Errorf("copy data: %w", err)
	}
	log.Printf("Data migration completed: %d responses imported.", n)
	return nil
}

// removeSQLiteFiles deletes the database file and its WAL sidecars.
func removeSQLiteFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("warning: remove %s: %v", p, err)
		}
	}
}
