package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/reolink-core/internal/catalog"
)

// CommandRepository persists per-device commands.
type CommandRepository interface {
	// ListCommands returns a device's commands in order.
	ListCommands(ctx context.Context, deviceID string) (CommandSet, error)

	// GetCommand returns one command or ErrCommandNotFound.
	GetCommand(ctx context.Context, deviceID, logicalID string) (*Command, error)

	// CreateCommand inserts a command. Returns ErrCommandExists when the
	// (device, logical ID) pair is taken.
	CreateCommand(ctx context.Context, cmd *Command) error

	// UpdateCommand rewrites a command's definition and value.
	UpdateCommand(ctx context.Context, cmd *Command) error

	// SetCommandValue stores a new value and reports whether it differed
	// from the stored one. Returns ErrCommandNotFound for unknown commands.
	SetCommandValue(ctx context.Context, deviceID, logicalID, value string) (changed bool, err error)

	// DeleteCommand removes a command. Only administrative paths call this.
	DeleteCommand(ctx context.Context, deviceID, logicalID string) error
}

const commandColumns = `device_id, logical_id, name, kind, sub_type, ord, value,
	revert_baseline, linked_command, config, value_updated_at, created_at, updated_at`

// ListCommands returns a device's commands ordered by their synthesis order.
func (r *SQLiteRepository) ListCommands(ctx context.Context, deviceID string) (CommandSet, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+commandColumns+" FROM commands WHERE device_id = ? ORDER BY ord, logical_id", deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var set CommandSet
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		set = append(set, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return set, nil
}

// GetCommand returns one command.
func (r *SQLiteRepository) GetCommand(ctx context.Context, deviceID, logicalID string) (*Command, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+commandColumns+" FROM commands WHERE device_id = ? AND logical_id = ?", deviceID, logicalID)
	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command: %w", err)
	}
	return cmd, nil
}

// CreateCommand inserts a command.
func (r *SQLiteRepository) CreateCommand(ctx context.Context, cmd *Command) error {
	configJSON, err := json.Marshal(cmd.Config)
	if err != nil {
		return fmt.Errorf("marshalling command config: %w", err)
	}

	now := time.Now().UTC()
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = now
	}
	cmd.UpdatedAt = now

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO commands ("+commandColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		cmd.DeviceID,
		cmd.LogicalID,
		cmd.Name,
		string(cmd.Kind),
		cmd.SubType,
		cmd.Order,
		cmd.Value,
		cmd.RevertBaseline,
		cmd.LinkedCommand,
		string(configJSON),
		nullableTime(cmd.ValueUpdatedAt),
		cmd.CreatedAt.Format(time.RFC3339),
		cmd.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrCommandExists
		}
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// UpdateCommand rewrites a command.
func (r *SQLiteRepository) UpdateCommand(ctx context.Context, cmd *Command) error {
	configJSON, err := json.Marshal(cmd.Config)
	if err != nil {
		return fmt.Errorf("marshalling command config: %w", err)
	}
	cmd.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE commands SET
			name = ?, kind = ?, sub_type = ?, ord = ?, value = ?,
			revert_baseline = ?, linked_command = ?, config = ?, value_updated_at = ?, updated_at = ?
		WHERE device_id = ? AND logical_id = ?`,
		cmd.Name,
		string(cmd.Kind),
		cmd.SubType,
		cmd.Order,
		cmd.Value,
		cmd.RevertBaseline,
		cmd.LinkedCommand,
		string(configJSON),
		nullableTime(cmd.ValueUpdatedAt),
		cmd.UpdatedAt.Format(time.RFC3339),
		cmd.DeviceID,
		cmd.LogicalID,
	)
	if err != nil {
		return fmt.Errorf("updating command: %w", err)
	}
	return requireRow(result, ErrCommandNotFound)
}

// SetCommandValue stores value when it differs from the current one.
func (r *SQLiteRepository) SetCommandValue(ctx context.Context, deviceID, logicalID, value string) (bool, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE commands SET value = ?, value_updated_at = ?, updated_at = ?
		WHERE device_id = ? AND logical_id = ? AND value <> ?`,
		value,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339),
		deviceID,
		logicalID,
		value,
	)
	if err != nil {
		return false, fmt.Errorf("updating command value: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Either unchanged or missing.
	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM commands WHERE device_id = ? AND logical_id = ?", deviceID, logicalID,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("checking command exists: %w", err)
	}
	if count == 0 {
		return false, ErrCommandNotFound
	}
	return false, nil
}

// DeleteCommand removes a command.
func (r *SQLiteRepository) DeleteCommand(ctx context.Context, deviceID, logicalID string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM commands WHERE device_id = ? AND logical_id = ?", deviceID, logicalID)
	if err != nil {
		return fmt.Errorf("deleting command: %w", err)
	}
	return requireRow(result, ErrCommandNotFound)
}

func scanCommand(scanner rowScanner) (*Command, error) {
	var c Command
	var kind, configJSON, createdAt, updatedAt string
	var valueUpdatedAt sql.NullString

	if err := scanner.Scan(
		&c.DeviceID,
		&c.LogicalID,
		&c.Name,
		&kind,
		&c.SubType,
		&c.Order,
		&c.Value,
		&c.RevertBaseline,
		&c.LinkedCommand,
		&configJSON,
		&valueUpdatedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	c.Kind = catalog.Kind(kind)
	if err := json.Unmarshal([]byte(configJSON), &c.Config); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if valueUpdatedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, valueUpdatedAt.String); err == nil {
			c.ValueUpdatedAt = &t
		}
	}

	var parseErr error
	if c.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt); parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	if c.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt); parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}
	return &c, nil
}
