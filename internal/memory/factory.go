package memory

import (
	"context"
	"strings"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// NewStore opens the postgres history store when databaseURL is set and falls
// back to process memory otherwise. The backend name is returned for logging.
func NewStore(ctx context.Context, databaseURL string) (Store, string, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), BackendMemory, nil
	}
	store, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, BackendPostgres, err
	}
	return store, BackendPostgres, nil
}
