package store

import "errors"

var (
	ErrSlotFull          = errors.New("slot full")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrSlotRetired       = errors.New("slot retired")
	ErrServiceNotFound   = errors.New("service not found")
	ErrBookingNotFound   = errors.New("booking not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnauthorized      = errors.New("actor not allowed")
	ErrDuplicateBooking  = errors.New("duplicate booking")
	ErrDateBlocked       = errors.New("date blocked")
)
