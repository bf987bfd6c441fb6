package models

import "time"

// Status is a principal's presence status.
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
	StatusBusy    Status = "BUSY"
)

// ValidStatus reports whether s is a known presence status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusBusy:
		return true
	}
	return false
}

// UserStatus is a principal's presence record. Principals default to OFFLINE
// until their first update; presence is client-driven and not tied to
// connection lifecycle.
type UserStatus struct {
	Principal  string    `json:"principal"`
	Status     Status    `json:"status"`
	LastActive time.Time `json:"last_active"`
}
