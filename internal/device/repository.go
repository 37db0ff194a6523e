package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/reolink-core/internal/ability"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListChildren retrieves the children of a hub ordered by channel.
	ListChildren(ctx context.Context, hubID string) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the ID or logical ID is taken.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device and, through the schema, its commands and children.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository and CommandRepository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, logical_id, role, parent_hub_id, channel,
	host, port, username, password, secure,
	abilities, supports_ai, model, firmware, serial, uid, info,
	autorefresh, enabled, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices, hubs first so parents precede their children.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := "SELECT " + deviceColumns + ` FROM devices
		ORDER BY CASE role WHEN 'hub' THEN 0 WHEN 'standalone' THEN 1 ELSE 2 END, name`
	return r.queryDevices(ctx, query)
}

// ListChildren retrieves the children of a hub.
func (r *SQLiteRepository) ListChildren(ctx context.Context, hubID string) ([]Device, error) {
	query := "SELECT " + deviceColumns + " FROM devices WHERE parent_hub_id = ? ORDER BY channel"
	return r.queryDevices(ctx, query, hubID)
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	abilitiesJSON, infoJSON, err := marshalDeviceJSON(device)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := "INSERT INTO devices (" + deviceColumns + `) VALUES (
		?, ?, ?, ?, ?, ?,
		?, ?, ?, ?, ?,
		?, ?, ?, ?, ?, ?, ?,
		?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		device.LogicalID,
		string(device.Role),
		nullableString(device.ParentHubID),
		device.Channel,
		device.Credentials.Host,
		device.Credentials.Port,
		device.Credentials.Username,
		device.Credentials.Password,
		boolToInt(device.Credentials.Secure),
		abilitiesJSON,
		boolToInt(device.SupportsAI),
		device.Model,
		device.Firmware,
		device.Serial,
		device.UID,
		infoJSON,
		device.AutoRefresh,
		boolToInt(device.Enabled),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	abilitiesJSON, infoJSON, err := marshalDeviceJSON(device)
	if err != nil {
		return err
	}

	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, logical_id = ?, role = ?, parent_hub_id = ?, channel = ?,
			host = ?, port = ?, username = ?, password = ?, secure = ?,
			abilities = ?, supports_ai = ?, model = ?, firmware = ?, serial = ?, uid = ?, info = ?,
			autorefresh = ?, enabled = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.Name,
		device.LogicalID,
		string(device.Role),
		nullableString(device.ParentHubID),
		device.Channel,
		device.Credentials.Host,
		device.Credentials.Port,
		device.Credentials.Username,
		device.Credentials.Password,
		boolToInt(device.Credentials.Secure),
		abilitiesJSON,
		boolToInt(device.SupportsAI),
		device.Model,
		device.Firmware,
		device.Serial,
		device.UID,
		infoJSON,
		device.AutoRefresh,
		boolToInt(device.Enabled),
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("updating device: %w", err)
	}
	return requireRow(result, ErrDeviceNotFound)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result, ErrDeviceNotFound)
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var role, createdAt, updatedAt, infoJSON string
	var parentHubID, abilitiesJSON sql.NullString
	var secure, supportsAI, enabled int

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.LogicalID,
		&role,
		&parentHubID,
		&d.Channel,
		&d.Credentials.Host,
		&d.Credentials.Port,
		&d.Credentials.Username,
		&d.Credentials.Password,
		&secure,
		&abilitiesJSON,
		&supportsAI,
		&d.Model,
		&d.Firmware,
		&d.Serial,
		&d.UID,
		&infoJSON,
		&d.AutoRefresh,
		&enabled,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Role = Role(role)
	d.ParentHubID = parentHubID.String
	d.Credentials.Secure = secure != 0
	d.SupportsAI = supportsAI != 0
	d.Enabled = enabled != 0

	var parseErr error
	if d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt); parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	if d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt); parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if abilitiesJSON.Valid && abilitiesJSON.String != "" {
		var m ability.Matrix
		if err := json.Unmarshal([]byte(abilitiesJSON.String), &m); err != nil {
			return nil, fmt.Errorf("unmarshalling abilities: %w", err)
		}
		d.Abilities = m
	}
	if err := json.Unmarshal([]byte(infoJSON), &d.Info); err != nil {
		return nil, fmt.Errorf("unmarshalling info: %w", err)
	}
	return &d, nil
}

func marshalDeviceJSON(d *Device) (abilities sql.NullString, info string, err error) {
	if d.Abilities != nil {
		b, err := json.Marshal(d.Abilities)
		if err != nil {
			return sql.NullString{}, "", fmt.Errorf("marshalling abilities: %w", err)
		}
		abilities = sql.NullString{String: string(b), Valid: true}
	}
	infoMap := d.Info
	if infoMap == nil {
		infoMap = map[string]any{}
	}
	b, err := json.Marshal(infoMap)
	if err != nil {
		return sql.NullString{}, "", fmt.Errorf("marshalling info: %w", err)
	}
	return abilities, string(b), nil
}

func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

// nullableString maps "" to NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
