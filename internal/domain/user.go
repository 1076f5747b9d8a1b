// Package domain contains entity without logic, just meta-data
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen    = 64
	MaxChannelIDLen = 64
)

type UserID string

// NewGuestID is used when the caller carries no upstream identity.
func NewGuestID() UserID {
	return UserID("guest-" + uuid.NewString())
}

func (id UserID) Validate() error {
	if len(id) == 0 {
		return fmt.Errorf("%w: empty user id", ErrValidation)
	}
	if len(id) > MaxUserIDLen {
		return fmt.Errorf("%w: user id too long", ErrValidation)
	}
	return nil
}
