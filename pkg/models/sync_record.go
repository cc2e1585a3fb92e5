package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// SyncRecord maps a source appointment to the ticket created for it.
// Exactly one record exists per synchronized appointment; the unique
// index on AppointmentID is what makes reruns idempotent.
type SyncRecord struct {
	ID uint `gorm:"primaryKey"`

	// CreatedAt is when the record was first persisted.
	CreatedAt time.Time

	// UpdatedAt is when the record was last written (retried writes
	// upsert the same row).
	UpdatedAt time.Time

	// AppointmentID is the scheduling system's appointment identifier.
	AppointmentID string `gorm:"type:varchar(255);uniqueIndex;not null"`

	// TicketID is the identifier assigned by the ticketing system.
	TicketID string `gorm:"type:varchar(255);not null"`

	// ServiceType is the appointment's service name, kept for operator
	// inspection via the status command.
	ServiceType string `gorm:"type:varchar(255)"`

	// AppointmentCreated is the source creation timestamp, used to
	// recompute the cursor if it is ever lost.
	AppointmentCreated time.Time

	// SyncedAt is when the ticket was created.
	SyncedAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for GORM.
func (SyncRecord) TableName() string {
	return "sync_records"
}

// SyncRecords is a slice of sync records.
type SyncRecords []SyncRecord

// Create persists a new sync record.
func (r *SyncRecord) Create(db *gorm.DB) error {
	return db.Create(r).Error
}

// GetByAppointmentID loads the record for an appointment identifier.
func (r *SyncRecord) GetByAppointmentID(db *gorm.DB, appointmentID string) error {
	return db.First(r, "appointment_id = ?", appointmentID).Error
}

// ExistsForAppointment reports whether an appointment has already been
// synchronized.
func ExistsForAppointment(db *gorm.DB, appointmentID string) (bool, error) {
	var r SyncRecord
	err := db.Select("id").First(&r, "appointment_id = ?", appointmentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Count returns the total number of sync records.
func Count(db *gorm.DB) (int64, error) {
	var n int64
	err := db.Model(&SyncRecord{}).Count(&n).Error
	return n, err
}

// FindRecent retrieves the most recently synced records, newest first.
func (rs *SyncRecords) FindRecent(db *gorm.DB, limit int) error {
	return db.Order("synced_at desc").Limit(limit).Find(rs).Error
}
