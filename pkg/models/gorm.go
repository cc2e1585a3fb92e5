package models

func ModelsToAutoMigrate() []interface{} {
	return []interface{}{
		&SyncRecord{},
		&SyncCursor{},
		&RunLease{},
	}
}
