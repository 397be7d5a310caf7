// Package artifact defines derived data products that retention must never
// touch: computed insights, predictions, and training-run records. They live
// in their own storage namespace, and no delete operation exists for them
// anywhere in the codebase.
package artifact

import (
	"encoding/json"
	"time"
)

// Kind classifies an artifact. The engine treats the payload as opaque; the
// kind only routes listings for the collaborators that produced them.
type Kind string

const (
	KindInsight     Kind = "insight"
	KindPrediction  Kind = "prediction"
	KindTrainingRun Kind = "training_run"
)

// Artifact is one retained derived record.
type Artifact struct {
	ID        uint64          `json:"id" cbor:"1,keyasint"`
	Kind      Kind            `json:"kind" cbor:"2,keyasint"`
	CreatedAt time.Time       `json:"created_at" cbor:"3,keyasint"`
	Payload   json.RawMessage `json:"payload,omitempty" cbor:"4,keyasint,omitempty"`
}

// Valid reports whether k is a known artifact kind.
func (k Kind) Valid() bool {
	switch k {
	case KindInsight, KindPrediction, KindTrainingRun:
		return true
	}
	return false
}
