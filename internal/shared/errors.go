package shared

import "errors"

// ErrConcurrentModification indicates the record changed under the caller.
// Callers should re-fetch current state before retrying, never replay
// stale in-memory quantities.
var ErrConcurrentModification = errors.New("concurrent modification detected")
