// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github-manager/internal/model"
)

// ErrNotFound is returned when no record exists for a kind/key pair.
var ErrNotFound = errors.New("record not found")

// RecordStore persists local mirror records keyed by kind and composite key.
// Implementations must make Create/Update safe under concurrent syncs for
// the same key (the Postgres store uses an upsert for this).
type RecordStore interface {
	Exists(ctx context.Context, kind, key string) (bool, error)
	// Get unmarshals the stored record into out, which must be a pointer.
	Get(ctx context.Context, kind, key string, out any) error
	Create(ctx context.Context, kind, key string, record any) error
	Update(ctx context.Context, kind, key string, record any) error
	Delete(ctx context.Context, kind, key string) error
	ListKeys(ctx context.Context, kind string) ([]string, error)
	// CountWhere counts records of a kind whose named field equals value.
	// An empty field counts all records of the kind.
	CountWhere(ctx context.Context, kind, field, value string) (int64, error)
}

// AuditSink is the append-only audit trail.
type AuditSink interface {
	Append(ctx context.Context, entry model.AuditLogEntry) error
}

// StateStore persists process-visible API state: the last observed rate
// limit and the last token refresh. Last writer wins.
type StateStore interface {
	SaveRateLimit(ctx context.Context, remaining int, resetAt time.Time) error
	RateLimit(ctx context.Context) (*model.RateLimitState, error)
	SaveTokenRefresh(ctx context.Context, at time.Time) error
}
