package model

// Booking status contract. The booking subsystem is an external
// collaborator; this core only pins the closed value set and the creation
// default, it enforces no transition rules.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingSeated    = "seated"
	BookingCompleted = "completed"
	BookingCancelled = "cancelled"
	BookingNoShow    = "no_show"
)

// DefaultBookingStatus is the status assigned to every new booking.
const DefaultBookingStatus = BookingPending

var bookingStatuses = map[string]struct{}{
	BookingPending:   {},
	BookingConfirmed: {},
	BookingSeated:    {},
	BookingCompleted: {},
	BookingCancelled: {},
	BookingNoShow:    {},
}

// ValidBookingStatus reports whether s belongs to the closed status set.
func ValidBookingStatus(s string) bool {
	_, ok := bookingStatuses[s]
	return ok
}
