package models

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(
		sqlite.Open(filepath.Join(t.TempDir(), "test.db")),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(ModelsToAutoMigrate()...))
	return db
}

func TestSyncRecord_UniquePerAppointment(t *testing.T) {
	db := openTestDB(t)

	first := &SyncRecord{
		AppointmentID: "A1",
		TicketID:      "T-100",
		ServiceType:   "Loaner Laptop",
		SyncedAt:      time.Now(),
	}
	require.NoError(t, first.Create(db))

	dup := &SyncRecord{
		AppointmentID: "A1",
		TicketID:      "T-999",
		SyncedAt:      time.Now(),
	}
	assert.Error(t, dup.Create(db), "second record for the same appointment must violate the unique index")

	exists, err := ExistsForAppointment(db, "A1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = ExistsForAppointment(db, "A2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSyncRecord_GetByAppointmentID(t *testing.T) {
	db := openTestDB(t)

	created := &SyncRecord{
		AppointmentID: "A7",
		TicketID:      "T-7",
		ServiceType:   "Laptop Repair",
		SyncedAt:      time.Now(),
	}
	require.NoError(t, created.Create(db))

	var got SyncRecord
	require.NoError(t, got.GetByAppointmentID(db, "A7"))
	assert.Equal(t, "T-7", got.TicketID)
	assert.Equal(t, "Laptop Repair", got.ServiceType)
}

func TestSyncRecords_FindRecent(t *testing.T) {
	db := openTestDB(t)

	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"A1", "A2", "A3"} {
		r := &SyncRecord{
			AppointmentID: id,
			TicketID:      "T-" + id,
			SyncedAt:      base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, r.Create(db))
	}

	var recent SyncRecords
	require.NoError(t, recent.FindRecent(db, 2))
	require.Len(t, recent, 2)
	assert.Equal(t, "A3", recent[0].AppointmentID)
	assert.Equal(t, "A2", recent[1].AppointmentID)

	n, err := Count(db)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestSyncCursor_LoadMissingIsZero(t *testing.T) {
	db := openTestDB(t)

	var c SyncCursor
	require.NoError(t, c.Load(db, "deskbridge"))
	assert.True(t, c.Position.IsZero())
	assert.Equal(t, "deskbridge", c.Connector)
}

func TestSyncCursor_AdvanceIsMonotonic(t *testing.T) {
	db := openTestDB(t)

	var c SyncCursor
	require.NoError(t, c.Load(db, "deskbridge"))

	t1 := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, c.Advance(db, t1))
	assert.Equal(t, t1, c.Position.UTC())

	// Moving backward is a no-op.
	require.NoError(t, c.Advance(db, t1.Add(-time.Hour)))

	var reloaded SyncCursor
	require.NoError(t, reloaded.Load(db, "deskbridge"))
	assert.Equal(t, t1, reloaded.Position.UTC())

	t2 := t1.Add(time.Hour)
	require.NoError(t, c.Advance(db, t2))
	require.NoError(t, reloaded.Load(db, "deskbridge"))
	assert.Equal(t, t2, reloaded.Position.UTC())
}

func TestRunLease_AcquireAndConflict(t *testing.T) {
	db := openTestDB(t)

	var a RunLease
	require.NoError(t, a.Acquire(db, "deskbridge", "holder-a", time.Minute))

	var b RunLease
	err := b.Acquire(db, "deskbridge", "holder-b", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	// Reacquiring our own lease extends it.
	require.NoError(t, a.Acquire(db, "deskbridge", "holder-a", time.Minute))

	require.NoError(t, a.Release(db))
	require.NoError(t, b.Acquire(db, "deskbridge", "holder-b", time.Minute))
}

func TestRunLease_ExpiredLeaseIsStolen(t *testing.T) {
	db := openTestDB(t)

	var a RunLease
	require.NoError(t, a.Acquire(db, "deskbridge", "holder-a", -time.Second))

	var b RunLease
	require.NoError(t, b.Acquire(db, "deskbridge", "holder-b", time.Minute))

	// The original holder's release must not clobber the stolen lease.
	require.NoError(t, a.Release(db))

	var c RunLease
	err := c.Acquire(db, "deskbridge", "holder-c", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)
}

func TestRunLease_IndependentConnectors(t *testing.T) {
	db := openTestDB(t)

	var a, b RunLease
	require.NoError(t, a.Acquire(db, "connector-a", "holder-a", time.Minute))
	require.NoError(t, b.Acquire(db, "connector-b", "holder-b", time.Minute))
}
