package connector_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/deskbridge/deskbridge/pkg/connector"
	"github.com/deskbridge/deskbridge/pkg/mapper"
	"github.com/deskbridge/deskbridge/pkg/models"
)

// fakeSource serves a fixed batch, honoring the cursor the way the
// real API does: only appointments created strictly after since.
type fakeSource struct {
	appts     []connector.Appointment
	err       error
	lastSince time.Time
	calls     int
}

func (s *fakeSource) FetchCreatedSince(_ context.Context, since time.Time) ([]connector.Appointment, error) {
	s.calls++
	s.lastSince = since
	if s.err != nil {
		return nil, s.err
	}
	var out []connector.Appointment
	for _, a := range s.appts {
		if a.Created.After(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

// fakeSink records created tickets and can simulate pre-existing
// tickets, create failures, and lookup failures.
type fakeSink struct {
	nextID      int
	created     map[string]string
	createCalls int
	failCreate  map[string]error
	preexisting map[string]string
	findErr     error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		created:     map[string]string{},
		failCreate:  map[string]error{},
		preexisting: map[string]string{},
	}
}

func (s *fakeSink) Create(_ context.Context, draft connector.ServiceRequestDraft) (string, error) {
	s.createCalls++
	if err, ok := s.failCreate[draft.ExternalRef]; ok {
		return "", err
	}
	s.nextID++
	id := fmt.Sprintf("T-%d", s.nextID)
	s.created[draft.ExternalRef] = id
	return id, nil
}

func (s *fakeSink) FindByExternalRef(_ context.Context, ref string) (string, bool, error) {
	if s.findErr != nil {
		return "", false, s.findErr
	}
	if id, ok := s.preexisting[ref]; ok {
		return id, true, nil
	}
	if id, ok := s.created[ref]; ok {
		return id, true, nil
	}
	return "", false, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(
		sqlite.Open(filepath.Join(t.TempDir(), "test.db")),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.ModelsToAutoMigrate()...))
	return db
}

func newTestConnector(t *testing.T, db *gorm.DB, source connector.Source, sink connector.Sink) *connector.Connector {
	t.Helper()

	conn, err := connector.New(
		connector.WithName("deskbridge"),
		connector.WithDatabase(db),
		connector.WithSource(source),
		connector.WithMapper(mapper.New("General Request", nil)),
		connector.WithSink(sink),
	)
	require.NoError(t, err)
	return conn
}

func mkAppt(id, service string, created time.Time) connector.Appointment {
	return connector.Appointment{
		ID:            id,
		ServiceName:   service,
		CustomerName:  "Dana Field",
		CustomerEmail: "dana@example.com",
		Start:         created.Add(48 * time.Hour),
		Created:       created,
	}
}

func TestRun_ExampleScenario(t *testing.T) {
	db := openTestDB(t)
	created := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{appts: []connector.Appointment{mkAppt("A1", "Loaner Laptop", created)}}
	sink := newFakeSink()
	conn := newTestConnector(t, db, source, sink)

	report, err := conn.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, created, report.Cursor.UTC())

	var record models.SyncRecord
	require.NoError(t, record.GetByAppointmentID(db, "A1"))
	assert.Equal(t, "T-1", record.TicketID)
	assert.Equal(t, "Loaner Laptop", record.ServiceType)

	// A second run over the same batch performs zero additional writes.
	report2, err := conn.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report2.Synced)
	assert.Equal(t, 1, sink.createCalls)
}

func TestRun_Idempotence(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{appts: []connector.Appointment{
		mkAppt("A1", "Loaner Laptop", base),
		mkAppt("A2", "Laptop Repair", base.Add(time.Minute)),
	}}
	sink := newFakeSink()
	conn := newTestConnector(t, db, source, sink)

	_, err := conn.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sink.createCalls)

	// Rewind the cursor to force a re-fetch of the same batch; the
	// sync record check must absorb the duplicates.
	require.NoError(t, db.Where("1 = 1").Delete(&models.SyncCursor{}).Error)

	report, err := conn.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 0, report.Synced)
	assert.Equal(t, 2, sink.createCalls, "no additional create calls on rerun")
}

func TestRun_CursorAdvancesToMaxCreated(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	latest := base.Add(2 * time.Hour)
	source := &fakeSource{appts: []connector.Appointment{
		mkAppt("A1", "Loaner Laptop", base),
		mkAppt("A3", "Account Support", latest),
		mkAppt("A2", "Laptop Repair", base.Add(time.Hour)),
	}}
	conn := newTestConnector(t, db, source, newFakeSink())

	report, err := conn.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, latest, report.Cursor.UTC())

	// The next run fetches nothing and leaves the cursor in place.
	report2, err := conn.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, latest, source.lastSince.UTC())
	assert.Equal(t, 0, report2.Fetched)
	assert.Equal(t, latest, report2.Cursor.UTC())
}

func TestRun_MappingFailureIsIsolated(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	bad := mkAppt("A2", "Laptop Repair", base.Add(time.Minute))
	bad.CustomerEmail = "" // mandatory field missing

	source := &fakeSource{appts: []connector.Appointment{
		mkAppt("A1", "Loaner Laptop", base),
		bad,
		mkAppt("A3", "Account Support", base.Add(2 * time.Minute)),
	}}
	sink := newFakeSink()
	conn := newTestConnector(t, db, source, sink)

	report, err := conn.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Synced)
	assert.Equal(t, 1, report.MappingFailures)
	require.Error(t, report.Err())

	var me *connector.MappingError
	require.ErrorAs(t, report.Err(), &me)
	assert.Equal(t, "A2", me.AppointmentID)

	// Deterministic failures do not pin the cursor.
	assert.Equal(t, base.Add(2*time.Minute), report.Cursor.UTC())

	exists, err := models.ExistsForAppointment(db, "A2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRun_WriteFailurePinsCursor(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{appts: []connector.Appointment{
		mkAppt("A1", "Loaner Laptop", base),
		mkAppt("A2", "Laptop Repair", base.Add(time.Minute)),
		mkAppt("A3", "Account Support", base.Add(2 * time.Minute)),
	}}
	sink := newFakeSink()
	sink.failCreate["A2"] = &connector.WriteError{
		AppointmentID: "A2", StatusCode: 422,
		Err: fmt.Errorf("unprocessable"),
	}
	conn := newTestConnector(t, db, source, sink)

	report, err := conn.Run(context.Background())
	require.NoError(t, err, "a per-record write failure must not abort the run")

	assert.Equal(t, 2, report.Synced, "records after the failure are still written")
	assert.Equal(t, 1, report.WriteFailures)
	assert.Equal(t, base, report.Cursor.UTC(), "cursor stops before the failed record")

	// Sink recovers; the failed record is re-fetched and synced, the
	// already-synced A3 is skipped.
	delete(sink.failCreate, "A2")

	report2, err := conn.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report2.Err())
	assert.Equal(t, 2, report2.Fetched)
	assert.Equal(t, 1, report2.Synced)
	assert.Equal(t, 1, report2.Skipped)
	assert.Equal(t, base.Add(2*time.Minute), report2.Cursor.UTC())
}

func TestRun_WriteFailureWithEqualTimestampsIsRetried(t *testing.T) {
	db := openTestDB(t)
	// Second-granularity creation timestamps collide routinely; a
	// write failure at the shared timestamp must still be re-fetched
	// by the strictly-after cursor filter.
	shared := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{appts: []connector.Appointment{
		mkAppt("A1", "Loaner Laptop", shared),
		mkAppt("A2", "Laptop Repair", shared),
	}}
	sink := newFakeSink()
	sink.failCreate["A2"] = &connector.WriteError{
		AppointmentID: "A2", StatusCode: 503, Transient: true,
		Err: fmt.Errorf("gateway timeout"),
	}
	conn := newTestConnector(t, db, source, sink)

	report, err := conn.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, report.WriteFailures)
	assert.True(t, report.Cursor.Before(shared),
		"cursor must stop short of the shared timestamp")

	delete(sink.failCreate, "A2")

	report2, err := conn.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report2.Err())
	assert.Equal(t, 2, report2.Fetched)
	assert.Equal(t, 1, report2.Synced)
	assert.Equal(t, 1, report2.Skipped)
	assert.Equal(t, shared, report2.Cursor.UTC())

	var record models.SyncRecord
	require.NoError(t, record.GetByAppointmentID(db, "A2"))
	assert.Equal(t, "Laptop Repair", record.ServiceType)
}

func TestRun_CrashRecoveryBackfillsSyncRecord(t *testing.T) {
	db := openTestDB(t)
	created := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{appts: []connector.Appointment{mkAppt("A1", "Loaner Laptop", created)}}
	sink := newFakeSink()
	// A previous run created the ticket and crashed before persisting
	// the sync record.
	sink.preexisting["A1"] = "T-77"
	conn := newTestConnector(t, db, source, sink)

	report, err := conn.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, 0, report.Synced)
	assert.Equal(t, 0, sink.createCalls, "no duplicate ticket is created")

	var record models.SyncRecord
	require.NoError(t, record.GetByAppointmentID(db, "A1"))
	assert.Equal(t, "T-77", record.TicketID)
}

func TestRun_LookupFailureFallsBackToCreate(t *testing.T) {
	db := openTestDB(t)
	created := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{appts: []connector.Appointment{mkAppt("A1", "Loaner Laptop", created)}}
	sink := newFakeSink()
	sink.findErr = &connector.WriteError{AppointmentID: "A1", StatusCode: 501, Err: fmt.Errorf("search not supported")}
	conn := newTestConnector(t, db, source, sink)

	report, err := conn.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, sink.createCalls)
}

func TestRun_AuthErrorAbortsRun(t *testing.T) {
	db := openTestDB(t)
	source := &fakeSource{err: &connector.AuthError{System: "source", StatusCode: 401, Err: fmt.Errorf("bad token")}}
	conn := newTestConnector(t, db, source, newFakeSink())

	_, err := conn.Run(context.Background())
	require.Error(t, err)

	var ae *connector.AuthError
	assert.ErrorAs(t, err, &ae)

	var cursor models.SyncCursor
	require.NoError(t, cursor.Load(db, "deskbridge"))
	assert.True(t, cursor.Position.IsZero(), "cursor must not move on an aborted run")
}

func TestRun_FetchErrorAbortsWithoutCursorAdvance(t *testing.T) {
	db := openTestDB(t)
	source := &fakeSource{err: &connector.FetchError{StatusCode: 500, Transient: true, Err: fmt.Errorf("upstream down")}}
	conn := newTestConnector(t, db, source, newFakeSink())

	_, err := conn.Run(context.Background())
	require.Error(t, err)

	var fe *connector.FetchError
	assert.ErrorAs(t, err, &fe)

	var cursor models.SyncCursor
	require.NoError(t, cursor.Load(db, "deskbridge"))
	assert.True(t, cursor.Position.IsZero())
}

func TestRun_SinkAuthErrorAbortsRun(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{appts: []connector.Appointment{
		mkAppt("A1", "Loaner Laptop", base),
		mkAppt("A2", "Laptop Repair", base.Add(time.Minute)),
	}}
	sink := newFakeSink()
	sink.failCreate["A1"] = &connector.AuthError{System: "sink", StatusCode: 403, Err: fmt.Errorf("key revoked")}
	conn := newTestConnector(t, db, source, sink)

	_, err := conn.Run(context.Background())
	require.Error(t, err)

	var ae *connector.AuthError
	assert.ErrorAs(t, err, &ae)

	exists, err := models.ExistsForAppointment(db, "A2")
	require.NoError(t, err)
	assert.False(t, exists, "processing stops at the auth failure")
}

func TestRun_LeaseBlocksConcurrentRun(t *testing.T) {
	db := openTestDB(t)
	source := &fakeSource{}
	conn := newTestConnector(t, db, source, newFakeSink())

	var other models.RunLease
	require.NoError(t, other.Acquire(db, "deskbridge", "other-process", time.Minute))

	_, err := conn.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrLeaseHeld)
	assert.Equal(t, 0, source.calls, "no fetch while another run holds the lease")

	require.NoError(t, other.Release(db))
	_, err = conn.Run(context.Background())
	require.NoError(t, err)
}

func TestRun_ReleasesLeaseOnCompletion(t *testing.T) {
	db := openTestDB(t)
	conn := newTestConnector(t, db, &fakeSource{}, newFakeSink())

	_, err := conn.Run(context.Background())
	require.NoError(t, err)

	_, err = conn.Run(context.Background())
	require.NoError(t, err, "back-to-back runs must not contend on a stale lease")
}

func TestRun_CancelledContextStopsBetweenRecords(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{appts: []connector.Appointment{
		mkAppt("A1", "Loaner Laptop", base),
		mkAppt("A2", "Laptop Repair", base.Add(time.Minute)),
	}}
	sink := newFakeSink()
	conn := newTestConnector(t, db, source, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := conn.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Synced)
	assert.Equal(t, 0, sink.createCalls)
}
