package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"mining_keeper/internal/model"
)

func (s *Store) InsertClaim(ctx context.Context, rec model.ClaimRecord) (model.ClaimRecord, error) {
	if rec.DeviceID == "" {
		return model.ClaimRecord{}, errors.New("device id is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ClaimedAt.IsZero() {
		rec.ClaimedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claims (id, account_index, device_id, value, balance, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.AccountIndex, rec.DeviceID, rec.Value, rec.Balance, rec.ClaimedAt.UnixMilli())
	if err != nil {
		return model.ClaimRecord{}, err
	}
	return rec, nil
}

func (s *Store) ListClaims(ctx context.Context, limit int) ([]model.ClaimRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_index, device_id, value, balance, claimed_at
		FROM claims ORDER BY claimed_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ClaimRecord
	for rows.Next() {
		var row struct {
			id           string
			accountIndex int
			deviceID     string
			value        float64
			balance      float64
			claimedAt    int64
		}
		if err := rows.Scan(&row.id, &row.accountIndex, &row.deviceID, &row.value, &row.balance, &row.claimedAt); err != nil {
			return nil, err
		}
		out = append(out, model.ClaimRecord{
			ID:           row.id,
			AccountIndex: row.accountIndex,
			DeviceID:     row.deviceID,
			Value:        row.value,
			Balance:      row.balance,
			ClaimedAt:    time.UnixMilli(row.claimedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
