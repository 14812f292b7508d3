// Package journal keeps a local SQLite history of sightings.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Tutortoise/cat-watch-service/models"
)

type Entry struct {
	ID        string             `json:"id"`
	CameraID  string             `json:"camera_id"`
	Timestamp time.Time          `json:"timestamp"`
	Box       models.BoundingBox `json:"box"`
	FramePath string             `json:"frame_path,omitempty"`
	CropPath  string             `json:"crop_path,omitempty"`
}

type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sightings (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			frame_path TEXT,
			crop_path TEXT
		);
		CREATE INDEX IF NOT EXISTS sightings_ts ON sightings (ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Record(ctx context.Context, e Entry) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO sightings (id, camera_id, ts, x, y, width, height, frame_path, crop_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CameraID, e.Timestamp.UnixNano(),
		e.Box.X, e.Box.Y, e.Box.Width, e.Box.Height,
		e.FramePath, e.CropPath,
	)
	if err != nil {
		return fmt.Errorf("record sighting %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit sightings, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, camera_id, ts, x, y, width, height, frame_path, crop_path
		 FROM sightings ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			ts         int64
			frame, crp sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.CameraID, &ts, &e.Box.X, &e.Box.Y, &e.Box.Width, &e.Box.Height, &frame, &crp); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(0, ts)
		e.FramePath = frame.String
		e.CropPath = crp.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
