package migrations

import (
	"gorm.io/gorm"
)

// Migration001SlotEntries creates the key/value table backing the sqlite slot.
type Migration001SlotEntries struct{}

func (m *Migration001SlotEntries) Version() string {
	return "001_slot_entries"
}

func (m *Migration001SlotEntries) Description() string {
	return "Create slot_entries key/value table"
}

func (m *Migration001SlotEntries) Up(db *gorm.DB) error {
	return db.Exec(`
		CREATE TABLE IF NOT EXISTS slot_entries (
			slot_key VARCHAR(255) PRIMARY KEY,
			payload JSON,
			updated_at DATETIME
		)
	`).Error
}
