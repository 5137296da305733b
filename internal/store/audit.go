package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"conduit/internal/bouncer"
)

// KeycardRecord is one bouncer decision about a keycard.
type KeycardRecord struct {
	ID         int64         `json:"id"`
	KeycardID  string        `json:"keycard_id,omitempty"`
	Action     string        `json:"action"`
	Type       bouncer.Type  `json:"type"`
	State      bouncer.State `json:"state"`
	Username   string        `json:"username,omitempty"`
	AvatarID   string        `json:"avatar_id,omitempty"`
	Issuer     string        `json:"issuer,omitempty"`
	Address    string        `json:"address,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// KeycardRecordFrom captures the audit fields of kc. Secrets are never part
// of a record.
func KeycardRecordFrom(action string, kc bouncer.Keycard) KeycardRecord {
	return KeycardRecord{
		KeycardID: kc.ID,
		Action:    action,
		Type:      kc.Type,
		State:     kc.State,
		Username:  kc.Username,
		AvatarID:  kc.AvatarID,
		Issuer:    kc.IssuerName,
		Address:   kc.Address,
	}
}

// RecordKeycard appends a keycard decision.
func (s *Store) RecordKeycard(ctx context.Context, rec KeycardRecord) (KeycardRecord, error) {
	if rec.Action == "" {
		return rec, fmt.Errorf("record keycard: action is required")
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	res, err := s.exec(ctx,
		`INSERT INTO keycard_audit (
            keycard_id, action, keycard_type, state, username, avatar_id, issuer, address, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(rec.KeycardID),
		rec.Action,
		string(rec.Type),
		string(rec.State),
		nullableString(rec.Username),
		nullableString(rec.AvatarID),
		nullableString(rec.Issuer),
		nullableString(rec.Address),
		formatTime(rec.RecordedAt),
	)
	if err != nil {
		return rec, fmt.Errorf("insert keycard audit: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return rec, fmt.Errorf("last insert id: %w", err)
	}
	return rec, nil
}

// KeycardAudit returns the newest records first; limit <= 0 means no limit.
func (s *Store) KeycardAudit(ctx context.Context, limit int) ([]KeycardRecord, error) {
	query := `SELECT id, keycard_id, action, keycard_type, state, username, avatar_id, issuer, address, recorded_at
        FROM keycard_audit ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query keycard audit: %w", err)
	}
	defer rows.Close()

	var out []KeycardRecord
	for rows.Next() {
		var (
			rec                                   KeycardRecord
			keycardID, username, avatarID, issuer sql.NullString
			address                               sql.NullString
			typ, state, recorded                  string
		)
		if err := rows.Scan(&rec.ID, &keycardID, &rec.Action, &typ, &state, &username, &avatarID, &issuer, &address, &recorded); err != nil {
			return nil, fmt.Errorf("scan keycard audit: %w", err)
		}
		rec.KeycardID = keycardID.String
		rec.Type = bouncer.Type(typ)
		rec.State = bouncer.State(state)
		rec.Username = username.String
		rec.AvatarID = avatarID.String
		rec.Issuer = issuer.String
		rec.Address = address.String
		rec.RecordedAt = parseTime(recorded)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keycard audit: %w", err)
	}
	return out, nil
}
