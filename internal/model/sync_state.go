package model

import "time"

// SyncState is the persisted progress of one synchronizer.
type SyncState struct {
	Name      string    `json:"name"`
	LastBlock uint64    `json:"last_block"`
	BlockHash string    `json:"block_hash"`
	UpdatedAt time.Time `json:"updated_at"`
}
