package store

import (
	"testing"
	"time"

	"gopkg.in/guregu/null.v4"
)

func sampleRecord(sessionID string, i int) *DetectionRecord {
	rec := &DetectionRecord{
		SessionID:      sessionID,
		ClassID:        3,
		ClassName:      "pothole",
		Confidence:     0.87,
		Severity:       "medium",
		BBoxXMin:       10 + i,
		BBoxYMin:       20,
		BBoxXMax:       110 + i,
		BBoxYMax:       120,
		AreaPercentage: 0.08,
	}
	rec.SetTime(time.Date(2026, 5, 1, 10, 0, i, 0, time.UTC))
	return rec
}

func TestDetectionRecord_SetTime(t *testing.T) {
	var rec DetectionRecord
	rec.SetTime(time.Date(2026, 5, 1, 10, 0, 0, 500_000_000, time.UTC))

	if rec.Timestamp != 1777629600.5 {
		t.Errorf("Timestamp = %v", rec.Timestamp)
	}
	if rec.Datetime != "2026-05-01T10:00:00.500000" {
		t.Errorf("Datetime = %q", rec.Datetime)
	}
}

func TestDetectionRepository_InsertAndList(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.Sessions().Create(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	repo := s.Detections()

	located := sampleRecord(sess.ID, 0)
	located.Latitude = null.FloatFrom(50.1234)
	located.Longitude = null.FloatFrom(8.6789)
	located.Altitude = null.FloatFrom(100)
	located.GPSFixQuality = null.IntFrom(1)
	located.ImagePath = null.StringFrom("detections/a.jpg")

	unlocated := sampleRecord(sess.ID, 1)

	for _, rec := range []*DetectionRecord{located, unlocated} {
		if err := repo.Insert(rec); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		if rec.ID == 0 {
			t.Error("Insert() did not set ID")
		}
	}

	list, err := repo.ListBySession(sess.ID)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(ListBySession()) = %d, want 2", len(list))
	}

	got := list[0]
	if !got.Latitude.Valid || got.Latitude.Float64 != 50.1234 {
		t.Errorf("Latitude = %v", got.Latitude)
	}
	if got.GPSFixQuality.Int64 != 1 || got.ImagePath.String != "detections/a.jpg" {
		t.Errorf("fix quality/image = %v/%v", got.GPSFixQuality, got.ImagePath)
	}
	if got.BBoxXMax != 110 || got.ClassName != "pothole" || got.Severity != "medium" {
		t.Errorf("record = %+v", got)
	}

	if list[1].Latitude.Valid || list[1].Longitude.Valid || list[1].GPSFixQuality.Valid || list[1].ImagePath.Valid {
		t.Errorf("unlocated record has location fields: %+v", list[1])
	}
}

func TestDetectionRepository_ListEmpty(t *testing.T) {
	s := newTestStore(t)
	list, err := s.Detections().ListBySession("none")
	if err != nil {
		t.Fatal(err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("ListBySession() = %v, want empty slice", list)
	}
}

func TestDetectionRepository_Histograms(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.Sessions().Create(time.Now())
	b, _ := s.Sessions().Create(time.Now())
	repo := s.Detections()

	inserts := []struct {
		session  string
		class    string
		severity string
	}{
		{a.ID, "pothole", "high"},
		{a.ID, "pothole", "low"},
		{a.ID, "alligator_crack", "low"},
		{b.ID, "pothole", "medium"},
	}
	for i, in := range inserts {
		rec := sampleRecord(in.session, i)
		rec.ClassName = in.class
		rec.Severity = in.severity
		if err := repo.Insert(rec); err != nil {
			t.Fatal(err)
		}
	}

	n, err := repo.CountBySession(a.ID)
	if err != nil || n != 3 {
		t.Errorf("CountBySession() = %d, %v; want 3", n, err)
	}

	byClass, err := repo.CountByClass(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if byClass["pothole"] != 2 || byClass["alligator_crack"] != 1 || len(byClass) != 2 {
		t.Errorf("CountByClass() = %v", byClass)
	}

	bySeverity, err := repo.CountBySeverity(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if bySeverity["low"] != 2 || bySeverity["high"] != 1 || bySeverity["medium"] != 0 {
		t.Errorf("CountBySeverity() = %v", bySeverity)
	}
}

func TestDetectionRepository_RejectsBadSeverity(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.Sessions().Create(time.Now())

	rec := sampleRecord(sess.ID, 0)
	rec.Severity = "catastrophic"
	if err := s.Detections().Insert(rec); err == nil {
		t.Error("Insert() with unknown severity should fail")
	}
}
