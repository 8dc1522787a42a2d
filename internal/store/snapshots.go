package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchcore/dispatch/pkg/models"
)

// RecordSnapshot persists a snapshot record. An ID and timestamp are
// assigned if missing. Failed snapshots are recorded too; the history of
// failures matters when auditing the safety guarantee.
func (db *DB) RecordSnapshot(rec *models.SnapshotRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO snapshots (id, trigger_kind, task_id, status, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, string(rec.Trigger), nullString(rec.TaskID), string(rec.Status),
		nullString(rec.Path), formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the snapshot record with the given ID.
func (db *DB) GetSnapshot(id string) (*models.SnapshotRecord, error) {
	row := db.QueryRow(snapshotSelect+" WHERE id = ?", id)
	rec, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot not found: %s", id)
	}
	return rec, err
}

// ListSnapshots returns snapshot records, optionally filtered by trigger,
// newest first.
func (db *DB) ListSnapshots(trigger *models.SnapshotTrigger) ([]models.SnapshotRecord, error) {
	query := snapshotSelect
	var args []any
	if trigger != nil {
		query += " WHERE trigger_kind = ?"
		args = append(args, string(*trigger))
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var recs []models.SnapshotRecord
	for rows.Next() {
		rec, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

const snapshotSelect = `
	SELECT id, trigger_kind, task_id, status, path, created_at
	FROM snapshots`

func scanSnapshot(row rowScanner) (*models.SnapshotRecord, error) {
	var (
		rec           models.SnapshotRecord
		taskID, path  sql.NullString
		createdAt     string
	)

	err := row.Scan(&rec.ID, &rec.Trigger, &taskID, &rec.Status, &path, &createdAt)
	if err != nil {
		return nil, err
	}

	rec.TaskID = taskID.String
	rec.Path = path.String
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for snapshot %s: %w", rec.ID, err)
	}
	return &rec, nil
}
