package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/alertnav/pkg/metrics"
)

// ReadingStore reads and writes the iot_data table.
type ReadingStore struct {
	db      *gorm.DB
	metrics *metrics.StoreMetrics
}

// NewReadingStore creates a ReadingStore on db. m may be nil.
func NewReadingStore(db *gorm.DB, m *metrics.StoreMetrics) *ReadingStore {
	return &ReadingStore{db: db, metrics: m}
}

// LatestPerDevice returns, for every device, its newest reading that has both
// coordinates. Readings without coordinates are dropped before ranking, so a
// device whose newest report lacks a position still shows its last known one.
// Ties on timestamp go to the higher id. An empty owner means all owners.
// The result order is unspecified.
func (s *ReadingStore) LatestPerDevice(ctx context.Context, owner string) ([]LatestReading, error) {
	var rows []LatestReading

	err := observe(s.metrics, "latest_per_device", func() error {
		db := s.db.WithContext(ctx)

		ranked := db.Model(&LocationReading{}).
			Select(`id, device_id, lat, lon, event, "timestamp",
				ROW_NUMBER() OVER (PARTITION BY device_id ORDER BY "timestamp" DESC, id DESC) AS rn`).
			Where("lat IS NOT NULL AND lon IS NOT NULL")
		if owner != "" {
			ranked = ranked.Where("user_email = ?", owner)
		}

		return db.Table("(?) AS ranked", ranked).
			Select(`id, device_id, CAST(lat AS DOUBLE PRECISION) AS latitude,
				CAST(lon AS DOUBLE PRECISION) AS longitude, event, "timestamp"`).
			Where("rn = 1").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("latest readings: %w", err)
	}

	if rows == nil {
		rows = []LatestReading{}
	}
	return rows, nil
}

// ReadingByID returns a single reading.
func (s *ReadingStore) ReadingByID(ctx context.Context, id uint) (*LocationReading, error) {
	var reading LocationReading
	err := observe(s.metrics, "reading_by_id", func() error {
		err := s.db.WithContext(ctx).Where("id = ?", id).Take(&reading).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading %d: %w", id, err)
	}

	return &reading, nil
}

// UpdateClassification sets event and group on one reading in a single
// UPDATE ... RETURNING statement and returns the updated row. Position,
// device and timestamp are never touched.
func (s *ReadingStore) UpdateClassification(ctx context.Context, id uint, event, group string) (*LocationReading, error) {
	var updated []LocationReading
	err := observe(s.metrics, "update_classification", func() error {
		res := s.db.WithContext(ctx).
			Model(&updated).
			Clauses(clause.Returning{}).
			Where("id = ?", id).
			Updates(map[string]any{"event": event, "group": group})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 || len(updated) == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update reading %d: %w", id, err)
	}

	return &updated[0], nil
}

// Create inserts a reading and fills in its id.
func (s *ReadingStore) Create(ctx context.Context, reading *LocationReading) error {
	err := observe(s.metrics, "create_reading", func() error {
		return s.db.WithContext(ctx).Create(reading).Error
	})
	if err != nil {
		return fmt.Errorf("insert reading for %s: %w", reading.DeviceID, err)
	}
	return nil
}

// CountUnowned returns how many readings have no owner.
func (s *ReadingStore) CountUnowned(ctx context.Context) (int64, error) {
	var n int64
	err := observe(s.metrics, "count_unowned", func() error {
		return s.db.WithContext(ctx).Model(&LocationReading{}).Where("user_email IS NULL").Count(&n).Error
	})
	if err != nil {
		return 0, fmt.Errorf("count unowned readings: %w", err)
	}
	return n, nil
}

// AssignUnowned gives every reading without an owner to email and returns the
// number of rows changed.
func (s *ReadingStore) AssignUnowned(ctx context.Context, email string) (int64, error) {
	var n int64
	err := observe(s.metrics, "assign_unowned", func() error {
		res := s.db.WithContext(ctx).
			Model(&LocationReading{}).
			Where("user_email IS NULL").
			Update("user_email", NormalizeEmail(email))
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("assign readings to %s: %w", email, err)
	}
	return n, nil
}

// CountByOwner returns how many readings email owns.
func (s *ReadingStore) CountByOwner(ctx context.Context, email string) (int64, error) {
	var n int64
	err := observe(s.metrics, "count_by_owner", func() error {
		return s.db.WithContext(ctx).Model(&LocationReading{}).Where("user_email = ?", NormalizeEmail(email)).Count(&n).Error
	})
	if err != nil {
		return 0, fmt.Errorf("count readings of %s: %w", email, err)
	}
	return n, nil
}
