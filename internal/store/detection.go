package store

import (
	"database/sql"
	"time"

	"gopkg.in/guregu/null.v4"
)

// DetectionRecord is one persisted detection. Location fields are null when
// no GPS fix was available at capture time. Records are never updated.
type DetectionRecord struct {
	ID             int64       `json:"id"`
	SessionID      string      `json:"session_id"`
	Timestamp      float64     `json:"timestamp"`
	Datetime       string      `json:"datetime"`
	Latitude       null.Float  `json:"latitude"`
	Longitude      null.Float  `json:"longitude"`
	Altitude       null.Float  `json:"altitude"`
	ClassID        int         `json:"class_id"`
	ClassName      string      `json:"class_name"`
	Confidence     float64     `json:"confidence"`
	Severity       string      `json:"severity"`
	BBoxXMin       int         `json:"bbox_xmin"`
	BBoxYMin       int         `json:"bbox_ymin"`
	BBoxXMax       int         `json:"bbox_xmax"`
	BBoxYMax       int         `json:"bbox_ymax"`
	AreaPercentage float64     `json:"area_percentage"`
	ImagePath      null.String `json:"image_path"`
	GPSFixQuality  null.Int    `json:"gps_fix_quality"`
}

// SetTime fills Timestamp and Datetime from t.
func (d *DetectionRecord) SetTime(t time.Time) {
	d.Timestamp = float64(t.Unix()) + float64(t.Nanosecond())/1e9
	d.Datetime = t.Format("2006-01-02T15:04:05.000000")
}

// DetectionRepository provides append and query access to the detection log.
type DetectionRepository struct {
	db *sql.DB
}

// Detections returns the detection repository for this store.
func (s *Store) Detections() *DetectionRepository {
	return &DetectionRepository{db: s.db}
}

const detectionColumns = `session_id, timestamp, datetime, latitude, longitude, altitude,
	class_id, class_name, confidence, severity,
	bbox_xmin, bbox_ymin, bbox_xmax, bbox_ymax,
	area_percentage, image_path, gps_fix_quality`

// Insert appends a record and sets its ID.
func (r *DetectionRepository) Insert(d *DetectionRecord) error {
	result, err := r.db.Exec(
		`INSERT INTO detections (`+detectionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.SessionID, d.Timestamp, d.Datetime, d.Latitude, d.Longitude, d.Altitude,
		d.ClassID, d.ClassName, d.Confidence, d.Severity,
		d.BBoxXMin, d.BBoxYMin, d.BBoxXMax, d.BBoxYMax,
		d.AreaPercentage, d.ImagePath, d.GPSFixQuality,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = id

	return nil
}

// ListBySession returns a session's records in capture order.
func (r *DetectionRepository) ListBySession(sessionID string) ([]*DetectionRecord, error) {
	rows, err := r.db.Query(
		`SELECT id, `+detectionColumns+`
		 FROM detections WHERE session_id = ? ORDER BY timestamp, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*DetectionRecord{}
	for rows.Next() {
		d := &DetectionRecord{}
		err := rows.Scan(&d.ID, &d.SessionID, &d.Timestamp, &d.Datetime,
			&d.Latitude, &d.Longitude, &d.Altitude,
			&d.ClassID, &d.ClassName, &d.Confidence, &d.Severity,
			&d.BBoxXMin, &d.BBoxYMin, &d.BBoxXMax, &d.BBoxYMax,
			&d.AreaPercentage, &d.ImagePath, &d.GPSFixQuality)
		if err != nil {
			return nil, err
		}
		records = append(records, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// CountBySession returns the number of records in a session.
func (r *DetectionRepository) CountBySession(sessionID string) (int64, error) {
	var n int64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM detections WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// CountByClass returns a histogram of class names for a session.
func (r *DetectionRepository) CountByClass(sessionID string) (map[string]int64, error) {
	return r.histogram(`SELECT class_name, COUNT(*) FROM detections WHERE session_id = ? GROUP BY class_name`, sessionID)
}

// CountBySeverity returns a histogram of severities for a session.
func (r *DetectionRepository) CountBySeverity(sessionID string) (map[string]int64, error) {
	return r.histogram(`SELECT severity, COUNT(*) FROM detections WHERE session_id = ? GROUP BY severity`, sessionID)
}

func (r *DetectionRepository) histogram(query, sessionID string) (map[string]int64, error) {
	rows, err := r.db.Query(query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}
