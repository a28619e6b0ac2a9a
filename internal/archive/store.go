// Package archive provides the local mirror of the screening history list,
// so past records remain viewable when the remote archive is unreachable.
package archive

import (
	"context"

	"github.com/retina-screening-gateway/internal/domain"
)

// Store is the local history mirror. ReplaceAll persists an authoritative
// snapshot wholesale; LoadAll returns the last persisted snapshot newest
// first.
type Store interface {
	ReplaceAll(ctx context.Context, entries []domain.HistoryEntry) error
	LoadAll(ctx context.Context) ([]domain.HistoryEntry, error)
	Close() error
}
