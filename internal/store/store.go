// Package store is the persistence shim over GORM used by the watchtower
// and the status API. Single-row operations auto-commit; FoldHeartbeat wraps
// the read-modify-write of an uptime row in one transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fuomag9/server-uptime/internal/models"
	"github.com/fuomag9/server-uptime/internal/uptime"
)

// Store provides access to server and uptime records.
type Store struct {
	db *gorm.DB
}

// New creates a Store on top of an open GORM connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetOrCreateServer looks a server up by name and creates it when absent,
// with createdAt as its creation timestamp. A concurrent insert of the same
// name is absorbed by retrying the lookup; the unique index on name makes
// the race safe. The bool reports whether a row was created.
func (s *Store) GetOrCreateServer(ctx context.Context, name string, createdAt time.Time) (models.Server, bool, error) {
	var server models.Server

	err := s.db.WithContext(ctx).Where("name = ?", name).First(&server).Error
	if err == nil {
		return server, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Server{}, false, fmt.Errorf("failed to look up server %q: %w", name, err)
	}

	server = models.Server{Name: name, Created: createdAt}
	if createErr := s.db.WithContext(ctx).Create(&server).Error; createErr != nil {
		// Another consumer won the insert race; the lookup must now succeed.
		if lookupErr := s.db.WithContext(ctx).Where("name = ?", name).First(&server).Error; lookupErr == nil {
			return server, false, nil
		}
		return models.Server{}, false, fmt.Errorf("failed to create server %q: %w", name, createErr)
	}
	return server, true, nil
}

// GetUptime returns the uptime row for (serverID, date), or nil when the day
// has no record yet.
func (s *Store) GetUptime(ctx context.Context, serverID int, date time.Time) (*models.Uptime, error) {
	var rec models.Uptime
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND record_date = ?", serverID, date).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up uptime for server %d: %w", serverID, err)
	}
	return &rec, nil
}

// CreateUptime inserts a new uptime row.
func (s *Store) CreateUptime(ctx context.Context, rec *models.Uptime) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create uptime record: %w", err)
	}
	return nil
}

// UpdateUptime persists the counter, percentage and last-updated fields of an
// existing row.
func (s *Store) UpdateUptime(ctx context.Context, rec *models.Uptime) error {
	err := s.db.WithContext(ctx).Model(&models.Uptime{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"uptime":            rec.Uptime,
			"uptime_percentage": rec.UptimePercentage,
			"last_updated":      rec.LastUpdated,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update uptime record %d: %w", rec.ID, err)
	}
	return nil
}

// FoldHeartbeat adds count alive ticks to the day's running total for the
// named server, creating the server and the day's row as needed, and returns
// the resulting record. The caller acknowledges the message only after this
// has returned without error.
//
// The update runs in a transaction with the row locked, so concurrent
// watchtower instances folding heartbeats for the same (server, day) cannot
// lose updates or double-count.
func (s *Store) FoldHeartbeat(ctx context.Context, name string, count int64, now time.Time) (models.Uptime, error) {
	server, _, err := s.GetOrCreateServer(ctx, name, now)
	if err != nil {
		return models.Uptime{}, err
	}

	date := uptime.DateOf(now)
	var rec models.Uptime

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("server_id = ? AND record_date = ?", server.ID, date)
		// SQLite (used in tests) has no FOR UPDATE; its single-writer
		// transactions already serialize the fold.
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		findErr := q.First(&rec).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			// First heartbeat of the day: the creating event's count seeds
			// the total and the percentage starts at 100.
			rec = models.Uptime{
				RecordDate:       date,
				LastUpdated:      now,
				Uptime:           count,
				UptimePercentage: 100,
				ServerID:         server.ID,
			}
			return tx.Create(&rec).Error
		}
		if findErr != nil {
			return findErr
		}

		rec.Uptime += count
		rec.UptimePercentage = uptime.Percentage(rec.Uptime, uptime.Elapsed(now, server.Created))
		rec.LastUpdated = now

		return tx.Model(&models.Uptime{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"uptime":            rec.Uptime,
				"uptime_percentage": rec.UptimePercentage,
				"last_updated":      rec.LastUpdated,
			}).Error
	})
	if err != nil {
		return models.Uptime{}, fmt.Errorf("failed to fold heartbeat for %q: %w", name, err)
	}
	return rec, nil
}

// ListServers returns all known servers ordered by name.
func (s *Store) ListServers(ctx context.Context) ([]models.Server, error) {
	var servers []models.Server
	if err := s.db.WithContext(ctx).Order("name").Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	return servers, nil
}

// GetServer returns a server by id.
func (s *Store) GetServer(ctx context.Context, id int) (*models.Server, error) {
	var server models.Server
	err := s.db.WithContext(ctx).First(&server, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up server %d: %w", id, err)
	}
	return &server, nil
}

// UptimeHistory returns the uptime rows for a server over the last days
// calendar days, oldest first.
func (s *Store) UptimeHistory(ctx context.Context, serverID int, since time.Time) ([]models.Uptime, error) {
	var recs []models.Uptime
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND record_date >= ?", serverID, since).
		Order("record_date").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load uptime history for server %d: %w", serverID, err)
	}
	return recs, nil
}

// UptimeForDate returns every server's uptime row for one calendar day, with
// the server preloaded. Used by the daily report job.
func (s *Store) UptimeForDate(ctx context.Context, date time.Time) ([]models.Uptime, error) {
	var recs []models.Uptime
	err := s.db.WithContext(ctx).
		Preload("Server").
		Where("record_date = ?", date).
		Order("server_id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load uptime records for %s: %w", date.Format("2006-01-02"), err)
	}
	return recs, nil
}
