package checkpoint

import "context"

// Store persists checkpoint blobs and their index. Values are opaque byte
// blobs; Manager handles encoding, decoding, and id generation, so a Store
// never inspects checkpoint contents and never invents an id on its own
// (spec §4.8 "storage interface").
type Store interface {
	// CreateCheckpoint persists value under the id/session/parent/step
	// named by info (value itself stays opaque to the Store). Returns
	// ErrAlreadyExists if info.ID is already taken within info.SessionID —
	// Manager retries with a new id on collision (spec §4.8 invariant:
	// "the engine retries id generation on collision").
	CreateCheckpoint(ctx context.Context, info Info, value []byte) error

	// RetrieveCheckpoint returns the blob for checkpointID within sessionID.
	// Returns ErrNotFound if no such checkpoint exists.
	RetrieveCheckpoint(ctx context.Context, sessionID, checkpointID string) ([]byte, error)

	// RetrieveIndex lists checkpoints for sessionID, optionally filtered to
	// children of parentID. A nil parentID lists every checkpoint in the
	// session's tree.
	RetrieveIndex(ctx context.Context, sessionID string, parentID *string) ([]Info, error)

	// CheckIdempotency reports whether key has already been committed.
	CheckIdempotency(ctx context.Context, key string) (bool, error)

	// MarkIdempotency records key as committed. Called immediately after a
	// successful CreateCheckpoint so the two stay consistent.
	MarkIdempotency(ctx context.Context, key string) error
}
