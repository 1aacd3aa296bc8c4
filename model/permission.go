package model

import "strings"

// Permission is what the reservation lifecycle allows the conversation to do.
type Permission int

const (
	// PermClosed: no history, no transport, no polling.
	PermClosed Permission = iota
	// PermReadOnly: history is fetched once, sends and joins are refused.
	PermReadOnly
	// PermReadWrite: full messaging, push channel and fallback polling.
	PermReadWrite
)

// Reservation statuses as reported by the lifecycle provider.
const (
	ReservationAccepted   = "accepted"
	ReservationInProgress = "in progress"
	ReservationCompleted  = "completed"
	ReservationFinished   = "finished"
)

// PermissionFor maps a reservation status to the conversation permission.
// Sending is restricted to accepted/in-progress reservations; completed ones
// keep their history readable.
func PermissionFor(status string) Permission {
	switch normalizeStatus(status) {
	case ReservationAccepted, ReservationInProgress:
		return PermReadWrite
	case ReservationCompleted, ReservationFinished:
		return PermReadOnly
	}
	return PermClosed
}

// CanSend reports whether local sends are allowed.
func (p Permission) CanSend() bool { return p == PermReadWrite }

// CanRead reports whether history may be fetched at all.
func (p Permission) CanRead() bool { return p != PermClosed }

func (p Permission) String() string {
	switch p {
	case PermReadOnly:
		return "read-only"
	case PermReadWrite:
		return "read-write"
	}
	return "closed"
}

func normalizeStatus(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
