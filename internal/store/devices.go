package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/butterflysync/bdp/internal/bdperr"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/model"
)

// PutDevice upserts a device identity record.
func (s *Store) PutDevice(ctx context.Context, d model.Device) error {
	caps, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("store: marshal capabilities: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, name, public_key, capabilities, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			name = excluded.name,
			public_key = excluded.public_key,
			capabilities = excluded.capabilities
	`, d.DeviceID.String(), d.Name, d.PublicKeyB64, string(caps), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: put device: %w", err)
	}

	return nil
}

// GetDevice returns the device record for id, or bdperr.ErrNotFound.
func (s *Store) GetDevice(ctx context.Context, id ids.DeviceID) (*model.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, name, public_key, capabilities, created_at
		FROM devices WHERE device_id = ?
	`, id.String())

	var (
		d        model.Device
		deviceID string
		caps     string
	)

	if err := row.Scan(&deviceID, &d.Name, &d.PublicKeyB64, &caps, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bdperr.ErrNotFound
		}

		return nil, fmt.Errorf("store: get device: %w", err)
	}

	parsed, err := ids.ParseDeviceID(deviceID)
	if err != nil {
		return nil, err
	}

	d.DeviceID = parsed

	if err := json.Unmarshal([]byte(caps), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("store: unmarshal capabilities: %w", err)
	}

	return &d, nil
}
