package storage

import (
	"context"

	"rfqScope/internal/model"
)

// DecodeErrorSink receives logs that a synchronizer skipped because they did not decode.
type DecodeErrorSink interface {
	PutDecodeErrors(records []model.DecodeError) error
}

// SyncStateStore persists synchronizer progress.
type SyncStateStore interface {
	LoadSyncState(ctx context.Context, name string) (model.SyncState, bool, error)
	SaveSyncState(ctx context.Context, state model.SyncState) error
}
