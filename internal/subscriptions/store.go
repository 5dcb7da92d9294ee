package subscriptions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
)

// Store persists subscription definitions per (entity, partition). The
// scheduler reads all subscriptions of its partition on every tick.
type Store interface {
	Create(ctx context.Context, sub Subscription) error
	Delete(ctx context.Context, id Identifier) error
	All(ctx context.Context, entityKey string, partition PartitionID) ([]Subscription, error)
}

// SQLiteStore is the Store over the local SQLite metadata file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the store and runs pending schema migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("goose up: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Create implements Store. Definitions the scheduler cannot run are rejected
// here rather than poisoning every later tick.
func (s *SQLiteStore) Create(ctx context.Context, sub Subscription) error {
	if err := sub.Data.Validate(); err != nil {
		return fmt.Errorf("invalid subscription %s: %w", sub.ID, err)
	}
	raw, err := json.Marshal(sub.Data)
	if err != nil {
		return fmt.Errorf("encode subscription data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (uuid, partition, entity, project_id, data)
		 VALUES (?, ?, ?, ?, ?)`,
		sub.ID.UUID.String(), int32(sub.ID.Partition), sub.Data.EntityKey,
		sub.Data.ProjectID, string(raw),
	)
	if err != nil {
		return fmt.Errorf("insert subscription %s: %w", sub.ID, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id Identifier) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE uuid = ?`, id.UUID.String())
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	return nil
}

// All implements Store. Rows come back in insertion order, which keeps task
// emission deterministic for a given store state.
func (s *SQLiteStore) All(ctx context.Context, entityKey string, partition PartitionID) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid, data FROM subscriptions
		 WHERE entity = ? AND partition = ?
		 ORDER BY created_at, uuid`,
		entityKey, int32(partition),
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var rawUUID, rawData string
		if err := rows.Scan(&rawUUID, &rawData); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(rawUUID)
		if err != nil {
			return nil, fmt.Errorf("bad subscription uuid %q: %w", rawUUID, err)
		}
		var data SubscriptionData
		if err := json.Unmarshal([]byte(rawData), &data); err != nil {
			return nil, fmt.Errorf("decode subscription %s: %w", rawUUID, err)
		}
		subs = append(subs, Subscription{
			ID:   Identifier{Partition: partition, UUID: id},
			Data: data,
		})
	}
	return subs, rows.Err()
}
