package models

import "time"

type Booking struct {
	BookingID    string     `json:"booking_id"`
	SlotID       string     `json:"slot_id"`
	ServiceID    string     `json:"service_id"`
	ClientID     string     `json:"client_id"`
	Status       string     `json:"status"`
	Notes        string     `json:"notes,omitempty"`
	CheckinToken string     `json:"checkin_token,omitempty"`
	RequestID    string     `json:"request_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	CheckedInAt  *time.Time `json:"checked_in_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusCheckedIn = "checked_in"
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// ActiveStatuses are the statuses that count toward a slot's capacity.
var ActiveStatuses = []string{StatusPending, StatusApproved, StatusCheckedIn}

func IsActiveStatus(status string) bool {
	for _, s := range ActiveStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

func IsValidRole(role string) bool {
	switch role {
	case RoleUser, RoleStaff, RoleAdmin:
		return true
	default:
		return false
	}
}
