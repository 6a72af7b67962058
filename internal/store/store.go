// Package store persists card records and answers the duplicate
// screening query used by the reconciliation gate.
package store

import (
	"context"

	"github.com/meishi-bot/meishi/internal/card"
)

// Store is the persistence boundary for card records.
type Store interface {
	// FindDuplicate reports whether a record with exactly this name
	// already exists. A store error must be returned as-is; it never
	// resolves to a silent "no duplicate".
	FindDuplicate(ctx context.Context, name string) (bool, error)

	// CreateCard writes one record and returns its generated id.
	CreateCard(ctx context.Context, fields card.FieldData) (string, error)
}
