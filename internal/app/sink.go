package app

import "github.com/ayusman/roadscan/internal/store"

// Sink receives records and status snapshots as they are produced.
// Publishing is best effort: errors are logged and the run continues.
type Sink interface {
	PublishDetection(sessionID string, rec *store.DetectionRecord) error
	PublishStatus(sessionID string, st Status) error
}
