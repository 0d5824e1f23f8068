package swap

import (
	"time"

	"github.com/klingon-exchange/klingon-swap/internal/ledger"
	"github.com/klingon-exchange/klingon-swap/internal/registry"
	"github.com/klingon-exchange/klingon-swap/pkg/helpers"
)

// SwapView is a read-only projection of a swap record.
type SwapView struct {
	ID              string       `json:"id"`
	Initiator       string       `json:"initiator"`
	Participant     string       `json:"participant"`
	Operator        string       `json:"operator,omitempty"`
	InitiatorLegs   []ledger.Leg `json:"initiator_legs"`
	ParticipantLegs []ledger.Leg `json:"participant_legs"`
	Commitment      string       `json:"commitment"`
	Scheme          string       `json:"scheme"`
	Secret          string       `json:"secret,omitempty"`
	State           string       `json:"state"`
	CreatedAt       time.Time    `json:"created_at"`
	Timeout         string       `json:"timeout"`
	Deadline        time.Time    `json:"deadline"`
	FinalizedAt     *time.Time   `json:"finalized_at,omitempty"`
}

// NewView projects s.
func NewView(s *registry.Swap) SwapView {
	v := SwapView{
		ID:              s.ID,
		Initiator:       s.Initiator,
		Participant:     s.Participant,
		Operator:        s.Operator,
		InitiatorLegs:   append([]ledger.Leg(nil), s.InitiatorLegs...),
		ParticipantLegs: append([]ledger.Leg(nil), s.ParticipantLegs...),
		Commitment:      helpers.BytesToHex(s.Commitment),
		Scheme:          string(s.Scheme),
		State:           string(s.State),
		CreatedAt:       s.CreatedAt,
		Timeout:         s.Timeout.String(),
		Deadline:        s.Deadline(),
	}
	if len(s.Secret) > 0 {
		v.Secret = helpers.BytesToHex(s.Secret)
	}
	if !s.FinalizedAt.IsZero() {
		t := s.FinalizedAt
		v.FinalizedAt = &t
	}
	return v
}
