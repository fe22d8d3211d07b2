package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Login          string
	Email          string
	HashedPassword string

	IsConfirmed           bool
	ConfirmationCode      string
	ConfirmationExpiresAt time.Time

	RecoveryCode      string
	RecoveryExpiresAt time.Time
}
