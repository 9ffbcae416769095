// Package ledger persists session outcomes and quality snapshots.
//
// The rotation manager treats the ledger as best effort: every method may fail and
// the caller logs and carries on with in-memory state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"proxyrotor/internal/shared/types"
	"proxyrotor/proxypool/model"
)

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("ledger: store is closed")

// Store 接口定义了历史账本的持久化行为。实现必须是并发安全的。
type Store interface {
	// Append writes one immutable outcome.
	Append(ctx context.Context, o model.SessionOutcome) error
	// Query returns outcomes with Timestamp after since, oldest first.
	Query(ctx context.Context, since time.Time) ([]model.SessionOutcome, error)
	// QueryProxy is Query restricted to one proxy key.
	QueryProxy(ctx context.Context, key string, since time.Time) ([]model.SessionOutcome, error)

	AppendSnapshots(ctx context.Context, snaps []model.QualitySnapshot) error
	QuerySnapshots(ctx context.Context, key string, since time.Time) ([]model.QualitySnapshot, error)

	// Purge deletes outcomes and snapshots strictly older than cutoff and returns how many outcomes went.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Open builds the store named by conf.Backend.
func Open(conf types.LedgerConf) (Store, error) {
	switch strings.ToLower(conf.Backend) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(conf.Path)
	case "sqlite":
		return NewSQLStore(conf.Path)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", conf.Backend)
	}
}
