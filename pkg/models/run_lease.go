package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrLeaseHeld is returned when another process holds an unexpired run
// lease for the connector.
var ErrLeaseHeld = errors.New("run lease held by another process")

// RunLease prevents overlapping runs of the same connector. A run
// acquires the lease before fetching and releases it when done; a
// crashed run's lease expires after its TTL and is taken over.
type RunLease struct {
	// Connector names the connector instance the lease guards.
	Connector string `gorm:"type:varchar(255);primaryKey"`

	// HolderID identifies the process holding the lease.
	HolderID string `gorm:"type:varchar(255);not null"`

	// ExpiresAt is when the lease lapses if not released.
	ExpiresAt time.Time `gorm:"not null"`

	UpdatedAt time.Time
}

// TableName specifies the table name for GORM.
func (RunLease) TableName() string {
	return "run_leases"
}

// Acquire takes the run lease for holderID, stealing an expired lease
// if one is left behind. Returns ErrLeaseHeld when a live lease
// belongs to a different holder. The claim is a single conditional
// update so concurrent claimants cannot both win; SQLite serializes
// writers, and on Postgres the row update is atomic.
func (l *RunLease) Acquire(db *gorm.DB, connector, holderID string, ttl time.Duration) error {
	now := time.Now()
	l.Connector = connector
	l.HolderID = holderID
	l.ExpiresAt = now.Add(ttl)

	res := db.Model(&RunLease{}).
		Where("connector = ? AND (holder_id = ? OR expires_at <= ?)", connector, holderID, now).
		Updates(map[string]interface{}{
			"holder_id":  holderID,
			"expires_at": l.ExpiresAt,
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("claiming run lease: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// No claimable row: either no lease exists yet, or another
	// holder's lease is live and the insert below hits the primary
	// key.
	if err := db.Create(l).Error; err != nil {
		var existing RunLease
		if ferr := db.First(&existing, "connector = ?", connector).Error; ferr == nil {
			if existing.HolderID != holderID && existing.ExpiresAt.After(now) {
				return ErrLeaseHeld
			}
		}
		return fmt.Errorf("creating run lease: %w", err)
	}
	return nil
}

// Release gives up the lease. A lease stolen by another holder in the
// meantime is left alone.
func (l *RunLease) Release(db *gorm.DB) error {
	return db.Where("connector = ? AND holder_id = ?", l.Connector, l.HolderID).
		Delete(&RunLease{}).Error
}
