package operation

import (
	"encoding/json"

	"github.com/go-faster/errors"

	"github.com/medtrail/casesync/modules/booking/domain/aggregates/cases"
)

// Kind names the booking operations that can wait in the pending queue.
const (
	KindCreate       = "create"
	KindStatusUpdate = "statusUpdate"
	KindAmend        = "amend"
)

// CreatePayload carries everything needed to replay a booking against the
// backend: the form data plus the provisional identity minted on device.
// ClientToken dedupes the create when a commit acknowledgement was lost.
type CreatePayload struct {
	DTO            cases.CreateDTO `json:"dto"`
	ProvisionalID  string          `json:"provisionalId"`
	ProvisionalRef string          `json:"provisionalRef"`
	ClientToken    string          `json:"clientToken"`
}

// StatusUpdatePayload replays one status occurrence. The entry timestamp is
// the moment the user acted, not the moment the queue drained.
type StatusUpdatePayload struct {
	CaseID string                   `json:"caseId"`
	Entry  cases.StatusHistoryEntry `json:"entry"`
}

// AmendPayload replays an amendment already applied to the local snapshot.
// Values is the full post-amendment field set so the backend lands on the
// same state the device shows.
type AmendPayload struct {
	CaseID string                `json:"caseId"`
	Entry  cases.AmendmentEntry  `json:"entry"`
	Values cases.AmendableValues `json:"values"`
}

func Encode(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode operation payload")
	}
	return raw, nil
}

func Decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "decode operation payload")
	}
	return nil
}
