package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// SyncCursor marks how far the connector has read from the source.
// One row per connector name. Position only ever moves forward; a run
// that aborts leaves it untouched so the next run re-fetches the same
// window.
type SyncCursor struct {
	// Connector names the connector instance owning this cursor.
	Connector string `gorm:"type:varchar(255);primaryKey"`

	// Position is the creation timestamp of the newest appointment the
	// connector has fully accounted for. Fetches request appointments
	// created strictly after it.
	Position time.Time

	UpdatedAt time.Time
}

// TableName specifies the table name for GORM.
func (SyncCursor) TableName() string {
	return "sync_cursors"
}

// Load reads the cursor row for a connector. A missing row is not an
// error: Position stays zero, meaning fetch everything.
func (c *SyncCursor) Load(db *gorm.DB, connector string) error {
	err := db.First(c, "connector = ?", connector).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.Connector = connector
		c.Position = time.Time{}
		return nil
	}
	return err
}

// Advance moves the cursor forward to position. Calls that would move
// it backward are ignored, preserving monotonicity.
func (c *SyncCursor) Advance(db *gorm.DB, position time.Time) error {
	if !position.After(c.Position) {
		return nil
	}
	c.Position = position
	return db.Save(c).Error
}
