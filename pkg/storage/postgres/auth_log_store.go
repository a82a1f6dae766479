package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/porthorian/sessionauth/pkg/storage"
)

const (
	putAuthEventQuery = `
INSERT INTO sessionauth.auth_event (
  id, date_added, user_id, login, session_id, event, occurred_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
`

	putAuthEventPropertyQuery = `
INSERT INTO sessionauth.auth_event_property (event_id, key, value)
VALUES ($1, $2, $3)
ON CONFLICT (event_id, key) DO UPDATE SET value = EXCLUDED.value
`

	listAuthEventByUserIDQuery = `
SELECT
  id::text, date_added, user_id, login, session_id, event, occurred_at
FROM sessionauth.auth_event
WHERE user_id = $1
ORDER BY occurred_at ASC, date_added ASC
`

	listAuthEventPropertyByUserIDQuery = `
SELECT
  p.event_id::text, p.key, p.value
FROM sessionauth.auth_event_property p
JOIN sessionauth.auth_event e ON e.id = p.event_id
WHERE e.user_id = $1
`
)

func (a *Adapter) PutAuthLog(ctx context.Context, record storage.AuthLogRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}

	dateAdded := record.DateAdded
	if dateAdded.IsZero() {
		dateAdded = time.Now().UTC()
	}

	occurredAt := record.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = dateAdded
	}

	return a.WithTx(ctx, func(tx *Adapter) error {
		if err := tx.exec(
			ctx,
			tx.stmts.putAuthEvent,
			id,
			dateAdded.UTC(),
			record.UserID,
			record.Login,
			record.SessionID,
			string(record.Event),
			occurredAt.UTC(),
		); err != nil {
			return err
		}

		for key, value := range record.Metadata {
			if err := tx.exec(ctx, tx.stmts.putAuthEventProperty, id, key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *Adapter) ListAuthLogsByUserID(ctx context.Context, userID int64) ([]storage.AuthLogRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return nil, err
	}

	properties, err := a.listAuthEventProperties(ctx, userID)
	if err != nil {
		return nil, err
	}

	stmt, release := a.stmt(ctx, a.stmts.listAuthEventByUserID)
	defer release()

	rows, err := stmt.QueryContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []storage.AuthLogRecord{}
	for rows.Next() {
		record, err := scanAuthEvent(rows)
		if err != nil {
			return nil, err
		}
		if metadata, ok := properties[record.ID]; ok {
			record.Metadata = metadata
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func (a *Adapter) listAuthEventProperties(ctx context.Context, userID int64) (map[string]map[string]string, error) {
	stmt, release := a.stmt(ctx, a.stmts.listAuthEventPropByUserID)
	defer release()

	rows, err := stmt.QueryContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	properties := map[string]map[string]string{}
	for rows.Next() {
		var eventID, key, value string
		if err := rows.Scan(&eventID, &key, &value); err != nil {
			return nil, err
		}
		if properties[eventID] == nil {
			properties[eventID] = map[string]string{}
		}
		properties[eventID][key] = value
	}

	return properties, rows.Err()
}

func scanAuthEvent(s scanner) (storage.AuthLogRecord, error) {
	var (
		record storage.AuthLogRecord
		event  string
	)

	if err := s.Scan(
		&record.ID,
		&record.DateAdded,
		&record.UserID,
		&record.Login,
		&record.SessionID,
		&event,
		&record.OccurredAt,
	); err != nil {
		return storage.AuthLogRecord{}, err
	}

	record.DateAdded = record.DateAdded.UTC()
	record.OccurredAt = record.OccurredAt.UTC()
	record.Event = storage.AuthLogEvent(event)
	record.Metadata = map[string]string{}

	return record, nil
}
