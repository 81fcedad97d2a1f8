package store

import (
	"context"

	"aluastro/pkg/domain"
)

// Store persists membership applications.
type Store interface {
	// AddApplication inserts app, assigning ID and CreatedAt, and returns the
	// stored record. Any ID or CreatedAt already set on app is ignored.
	AddApplication(ctx context.Context, app domain.Application) (domain.Application, error)
	GetApplication(ctx context.Context, id string) (domain.Application, bool, error)
}
