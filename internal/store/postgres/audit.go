package postgres

import (
	"context"
	"encoding/json"

	"falconlic/internal/license"
)

// AuditStore implements license.AuditSink and license.AuditReader on
// the append-only audit_log table.
type AuditStore struct {
	db *DB
}

// NewAuditStore returns a Postgres-backed audit store.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, rec *license.AuditRecord) error {
	var result []byte
	if rec.Result != nil {
		b, err := json.Marshal(rec.Result)
		if err != nil {
			return license.NewStorageError("marshal audit result", err)
		}
		result = b
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, license_key, user_id, action, success,
			ip_address, user_agent, hardware_id, result, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.LicenseKey, rec.UserID, rec.Action, rec.Success,
		rec.IPAddress, rec.UserAgent, rec.HardwareID, result, rec.Error, rec.Timestamp)
	return license.NewStorageError("append audit record", err)
}

func (s *AuditStore) Recent(ctx context.Context, limit int) ([]*license.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, license_key, user_id, action, success, ip_address,
			user_agent, hardware_id, result, error_message, created_at
		FROM audit_log
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, license.NewStorageError("list audit records", err)
	}
	defer rows.Close()

	var out []*license.AuditRecord
	for rows.Next() {
		var (
			rec    license.AuditRecord
			result []byte
		)
		err := rows.Scan(&rec.ID, &rec.LicenseKey, &rec.UserID, &rec.Action,
			&rec.Success, &rec.IPAddress, &rec.UserAgent, &rec.HardwareID,
			&result, &rec.Error, &rec.Timestamp)
		if err != nil {
			return nil, license.NewStorageError("scan audit record", err)
		}
		if len(result) > 0 {
			if err := json.Unmarshal(result, &rec.Result); err != nil {
				return nil, license.NewStorageError("decode audit result", err)
			}
		}
		out = append(out, &rec)
	}
	return out, license.NewStorageError("list audit records", rows.Err())
}
