package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per survey run
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			total_frames INTEGER NOT NULL DEFAULT 0,
			total_detections INTEGER NOT NULL DEFAULT 0,
			avg_fps REAL NOT NULL DEFAULT 0
		)`,

		// Detections table - append-only damage log
		`CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			timestamp REAL NOT NULL,
			datetime TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			altitude REAL,
			class_id INTEGER NOT NULL,
			class_name TEXT NOT NULL,
			confidence REAL NOT NULL,
			severity TEXT NOT NULL CHECK(severity IN ('low', 'medium', 'high')),
			bbox_xmin INTEGER NOT NULL,
			bbox_ymin INTEGER NOT NULL,
			bbox_xmax INTEGER NOT NULL,
			bbox_ymax INTEGER NOT NULL,
			area_percentage REAL NOT NULL,
			image_path TEXT,
			gps_fix_quality INTEGER
		)`,

		`CREATE INDEX IF NOT EXISTS idx_detections_session_id ON detections(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_timestamp ON detections(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
