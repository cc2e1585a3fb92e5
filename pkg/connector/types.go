package connector

import (
	"context"
	"time"
)

// Appointment is a booking record fetched from the scheduling service.
// It is read-only to the connector: the scheduling service owns it.
type Appointment struct {
	// ID is the scheduling system's unique appointment identifier.
	ID string

	// ServiceID and ServiceName identify the booked service.
	ServiceID   string
	ServiceName string

	// Start and End are the scheduled slot boundaries in UTC.
	// End is zero when the source omits it.
	Start time.Time
	End   time.Time

	// TimeZone is the IANA time zone the appointment was booked in.
	TimeZone string

	// Customer contact fields.
	CustomerName  string
	CustomerEmail string
	CustomerPhone string

	// Notes is the free-form service note entered at booking time.
	Notes string

	// Created is when the appointment was created in the source system.
	// The fetch cursor is computed from this field.
	Created time.Time

	// Raw is the appointment's original JSON payload. The mapper reads
	// custom question answers and other extension fields from it.
	Raw []byte
}

// ServiceRequestDraft is a ticket payload ready to be created in the
// ticketing system. Produced by the Mapper, consumed by the Sink.
type ServiceRequestDraft struct {
	// ExternalRef carries the source appointment ID into the ticketing
	// system so a pre-existing ticket can be found after a crash.
	ExternalRef string

	Subject     string
	Description string
	Category    string

	RequesterName  string
	RequesterEmail string
	RequesterPhone string
}

// Source fetches appointments from the scheduling service.
type Source interface {
	// FetchCreatedSince returns all appointments created strictly after
	// since, ordered by creation time ascending, paging until exhausted.
	// Errors are FetchError or AuthError.
	FetchCreatedSince(ctx context.Context, since time.Time) ([]Appointment, error)
}

// Mapper converts an appointment into a service request draft. Pure:
// no I/O, no side effects. A missing mandatory source field yields a
// MappingError.
type Mapper interface {
	Map(appt Appointment) (ServiceRequestDraft, error)
}

// Sink creates service requests in the ticketing service.
type Sink interface {
	// Create submits the draft and returns the new ticket identifier.
	// Errors are WriteError or AuthError.
	Create(ctx context.Context, draft ServiceRequestDraft) (string, error)

	// FindByExternalRef looks up an existing ticket by the appointment
	// identifier it was created from. Used to detect tickets created by
	// a run that crashed before recording them. ok is false when no
	// ticket exists.
	FindByExternalRef(ctx context.Context, externalRef string) (ticketID string, ok bool, err error)
}
