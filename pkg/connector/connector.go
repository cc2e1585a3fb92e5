// Package connector runs the fetch-map-write pipeline between the
// scheduling service and the ticketing service. One run fetches every
// appointment created after the cursor, maps each to a service request
// draft, creates the missing tickets, and records a sync record per
// success. Runs are idempotent and sequential: the sync record table
// filters already-handled appointments, and a run lease prevents
// overlapping invocations.
package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/deskbridge/deskbridge/pkg/models"
)

const defaultLeaseTTL = 10 * time.Minute

// Connector wires the three pipeline stages to the sync state store.
type Connector struct {
	name     string
	db       *gorm.DB
	source   Source
	mapper   Mapper
	sink     Sink
	leaseTTL time.Duration
	log      hclog.Logger
}

// Option is a functional option for creating a Connector.
type Option func(*Connector)

// WithName sets the connector instance name. The cursor and lease rows
// are keyed by it, so two differently named connectors sync
// independently against the same database.
func WithName(name string) Option {
	return func(c *Connector) {
		c.name = name
	}
}

// WithDatabase sets the sync state database.
func WithDatabase(db *gorm.DB) Option {
	return func(c *Connector) {
		c.db = db
	}
}

// WithSource sets the appointment source.
func WithSource(source Source) Option {
	return func(c *Connector) {
		c.source = source
	}
}

// WithMapper sets the field mapper.
func WithMapper(mapper Mapper) Option {
	return func(c *Connector) {
		c.mapper = mapper
	}
}

// WithSink sets the ticketing sink.
func WithSink(sink Sink) Option {
	return func(c *Connector) {
		c.sink = sink
	}
}

// WithLeaseTTL sets how long a run lease lives before a crashed run's
// lease can be stolen.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(c *Connector) {
		if ttl > 0 {
			c.leaseTTL = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log hclog.Logger) Option {
	return func(c *Connector) {
		c.log = log
	}
}

// New creates a Connector.
func New(opts ...Option) (*Connector, error) {
	c := &Connector{
		name:     "default",
		leaseTTL: defaultLeaseTTL,
		log:      hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.db == nil {
		return nil, fmt.Errorf("connector requires a database")
	}
	if c.source == nil {
		return nil, fmt.Errorf("connector requires a source")
	}
	if c.mapper == nil {
		return nil, fmt.Errorf("connector requires a mapper")
	}
	if c.sink == nil {
		return nil, fmt.Errorf("connector requires a sink")
	}

	return c, nil
}

// Run executes one pipeline pass. The returned error is run-level
// (lease contention, fetch or auth failure): nothing was persisted and
// the cursor did not move. Record-level failures are inside the
// report, which is returned for successful runs even when some records
// were skipped.
func (c *Connector) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	log := c.log.With("run_id", report.RunID)

	lease := &models.RunLease{}
	if err := lease.Acquire(c.db, c.name, report.RunID, c.leaseTTL); err != nil {
		if errors.Is(err, models.ErrLeaseHeld) {
			return nil, fmt.Errorf("another run is in progress: %w", err)
		}
		return nil, fmt.Errorf("acquiring run lease: %w", err)
	}
	defer func() {
		if err := lease.Release(c.db); err != nil {
			log.Error("failed to release run lease", "error", err)
		}
	}()

	var cursor models.SyncCursor
	if err := cursor.Load(c.db, c.name); err != nil {
		return nil, fmt.Errorf("loading sync cursor: %w", err)
	}
	log.Info("run started", "cursor", cursor.Position)

	appts, err := c.source.FetchCreatedSince(ctx, cursor.Position)
	if err != nil {
		return nil, err
	}
	report.Fetched = len(appts)

	// The cursor may only advance over the contiguous prefix of
	// handled appointments: a write failure pins it so the failed
	// appointment is fetched again next run. Records after the pin are
	// still processed (failure isolation); their reruns are absorbed
	// by the sync record check.
	var candidate time.Time
	cursorPinned := false

	for _, appt := range appts {
		if ctx.Err() != nil {
			log.Warn("run interrupted, stopping before next record", "appointment_id", appt.ID)
			candidate = pinBefore(candidate, appt.Created)
			break
		}

		handled, err := c.processOne(ctx, log, appt, report)
		if err != nil {
			// Run-level: auth failures and store breakage abort
			// immediately. The cursor still advances over the prefix
			// already handled.
			candidate = pinBefore(candidate, appt.Created)
			if cerr := cursor.Advance(c.db, candidate); cerr != nil {
				log.Error("failed to advance cursor", "error", cerr)
			}
			return nil, err
		}

		if !handled && !cursorPinned {
			cursorPinned = true
			candidate = pinBefore(candidate, appt.Created)
		}
		if handled && !cursorPinned && appt.Created.After(candidate) {
			candidate = appt.Created
		}
	}

	if err := cursor.Advance(c.db, candidate); err != nil {
		return nil, fmt.Errorf("advancing sync cursor: %w", err)
	}

	report.Cursor = cursor.Position
	report.CompletedAt = time.Now()
	log.Info("run completed",
		"fetched", report.Fetched,
		"synced", report.Synced,
		"skipped", report.Skipped,
		"recovered", report.Recovered,
		"mapping_failures", report.MappingFailures,
		"write_failures", report.WriteFailures,
		"cursor", report.Cursor,
	)
	return report, nil
}

// pinBefore caps the cursor candidate so a record that must be fetched
// again is not filtered out next run. The fetch filter is strictly
// "created after cursor", so when the candidate has reached the
// record's creation time (equal timestamps are common at second
// granularity) it is pulled back one second. Advance ignores
// candidates behind the stored cursor, so the clamp never moves the
// cursor backward.
func pinBefore(candidate, created time.Time) time.Time {
	if candidate.Before(created) {
		return candidate
	}
	return created.Add(-time.Second)
}

// processOne handles a single appointment. handled is false when the
// appointment must be re-fetched on the next run (write failure). A
// non-nil error aborts the whole run.
func (c *Connector) processOne(ctx context.Context, log hclog.Logger, appt Appointment, report *RunReport) (handled bool, err error) {
	exists, err := models.ExistsForAppointment(c.db, appt.ID)
	if err != nil {
		return false, fmt.Errorf("checking sync record for appointment %s: %w", appt.ID, err)
	}
	if exists {
		report.Skipped++
		log.Debug("appointment already synced, skipping", "appointment_id", appt.ID)
		return true, nil
	}

	draft, err := c.mapper.Map(appt)
	if err != nil {
		var me *MappingError
		if errors.As(err, &me) {
			// Deterministic: re-fetching would fail the same way, so
			// the record is skipped and the cursor moves past it.
			report.MappingFailures++
			report.recordFailure(err)
			log.Error("appointment failed mapping, skipping",
				"appointment_id", appt.ID, "error", err)
			return true, nil
		}
		return false, fmt.Errorf("mapping appointment %s: %w", appt.ID, err)
	}

	ticketID, recovered, err := c.writeDraft(ctx, log, appt, draft)
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			return false, err
		}
		report.WriteFailures++
		report.recordFailure(err)
		log.Error("service request write failed, will retry next run",
			"appointment_id", appt.ID, "error", err)
		return false, nil
	}

	record := &models.SyncRecord{
		AppointmentID:      appt.ID,
		TicketID:           ticketID,
		ServiceType:        appt.ServiceName,
		AppointmentCreated: appt.Created,
		SyncedAt:           time.Now(),
	}
	if err := record.Create(c.db); err != nil {
		// The ticket exists but is not recorded. The external ref
		// lookup recovers this window on the next run.
		report.WriteFailures++
		report.recordFailure(&WriteError{
			AppointmentID: appt.ID,
			Err:           fmt.Errorf("ticket %s created but sync record not persisted: %w", ticketID, err),
		})
		log.Error("sync record persistence failed after ticket creation",
			"appointment_id", appt.ID, "ticket_id", ticketID, "error", err)
		return false, nil
	}

	if recovered {
		report.Recovered++
		log.Info("backfilled sync record for pre-existing ticket",
			"appointment_id", appt.ID, "ticket_id", ticketID)
	} else {
		report.Synced++
		log.Info("service request created",
			"appointment_id", appt.ID, "ticket_id", ticketID, "category", draft.Category)
	}
	return true, nil
}

// writeDraft creates the service request, first checking the sink for
// a ticket left behind by a run that crashed between ticket creation
// and sync record persistence.
func (c *Connector) writeDraft(ctx context.Context, log hclog.Logger, appt Appointment, draft ServiceRequestDraft) (ticketID string, recovered bool, err error) {
	ticketID, found, err := c.sink.FindByExternalRef(ctx, appt.ID)
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			return "", false, err
		}
		// Lookup is best effort: without it the write degrades to
		// at-least-once, which is the documented fallback when the
		// sink cannot search by external ref.
		log.Warn("external ref lookup failed, proceeding with create",
			"appointment_id", appt.ID, "error", err)
	} else if found {
		return ticketID, true, nil
	}

	ticketID, err = c.sink.Create(ctx, draft)
	if err != nil {
		return "", false, err
	}
	return ticketID, false, nil
}
