package api

import "github.com/paltrust/feedback/internal/services"

// Store is the persistence surface the HTTP layer needs. Implementations live
// here (memory) and in internal/db (sqlite, postgres).
type Store interface {
	services.SettingsStore
	services.ResponseStore
	Close() error
}

var _ Store = (*memoryStore)(nil)
