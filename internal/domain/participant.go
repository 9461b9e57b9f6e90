// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	MaxParticipantIDLen = 64
	MaxNameLen          = 36
)

var validate = validator.New()

type ParticipantID string

// Participant is one user's membership in a room.
type Participant struct {
	ID           ParticipantID `json:"participantId"`
	Name         string        `json:"name,omitempty"`
	JoinedAt     time.Time     `json:"joinedAt"`
	AudioEnabled bool          `json:"audioEnabled"`
	// SlowSends counts broadcasts this participant's connection could not take.
	SlowSends int `json:"slowSends"`
}

type identity struct {
	ID   string `validate:"required,max=64,printascii"`
	Name string `validate:"max=36"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id ParticipantID, name string, joinedAt time.Time) (Participant, error) {
	if err := validate.Struct(identity{ID: string(id), Name: name}); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Participant{}, fmt.Errorf("%w: %s failed on %q", ErrInvalidParticipant, verrs[0].Field(), verrs[0].Tag())
		}
		return Participant{}, fmt.Errorf("%w: %v", ErrInvalidParticipant, err)
	}
	return Participant{
		ID:           id,
		Name:         name,
		JoinedAt:     joinedAt,
		AudioEnabled: true,
	}, nil
}

// DisplayName falls back to the id when no name was given.
func (p Participant) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return string(p.ID)
}
