package models

import (
	"time"

	"github.com/google/uuid"
)

// Session of one logged in device
type Session struct {
	DeviceID     uuid.UUID
	UserID       uuid.UUID
	IP           string
	Title        string // Derived from User-Agent. Display only, never trust it
	LastActiveAt time.Time
	ExpiresAt    time.Time

	// Fingerprint of the current (not rotated yet) refresh token
	RefreshHash string
}

// Client data captured from the request that opened or refreshed the session
type DeviceInfo struct {
	IP    string
	Title string
}
