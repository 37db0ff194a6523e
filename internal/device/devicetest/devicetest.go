// Package devicetest provides a migrated in-memory store for tests of
// packages that persist devices and commands.
package devicetest

import (
	"context"
	"testing"

	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/infrastructure/database"
	_ "github.com/nerrad567/reolink-core/migrations" // registers the schema
)

// Store bundles the SQLite repository and a registry over it.
type Store struct {
	DB       *database.DB
	Repo     *device.SQLiteRepository
	Registry *device.Registry
}

// NewStore opens an in-memory database, applies migrations and returns a
// store that is closed when the test ends.
func NewStore(t testing.TB) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	repo := device.NewSQLiteRepository(db.DB)
	return &Store{DB: db, Repo: repo, Registry: device.NewRegistry(repo)}
}

// AddStandalone creates an enabled standalone camera.
func (s *Store) AddStandalone(t testing.TB, name string, creds device.Credentials) *device.Device {
	t.Helper()
	d := &device.Device{Name: name, Role: device.RoleStandalone, Credentials: creds, Enabled: true}
	if err := s.Registry.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("creating standalone %s: %v", name, err)
	}
	return d
}

// AddHub creates an enabled hub.
func (s *Store) AddHub(t testing.TB, name string, creds device.Credentials) *device.Device {
	t.Helper()
	d := &device.Device{Name: name, Role: device.RoleHub, Credentials: creds, Enabled: true}
	if err := s.Registry.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("creating hub %s: %v", name, err)
	}
	return d
}

// AddChild creates an enabled child on hub's channel.
func (s *Store) AddChild(t testing.TB, hub *device.Device, channel int) *device.Device {
	t.Helper()
	d := &device.Device{
		Name:        hub.Name + " channel",
		LogicalID:   device.ChildLogicalID(hub.ID, channel),
		Role:        device.RoleChild,
		ParentHubID: hub.ID,
		Channel:     channel,
		Enabled:     true,
	}
	if err := s.Registry.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("creating child on channel %d: %v", channel, err)
	}
	return d
}

// AddCommands inserts commands for deviceID in the given order.
func (s *Store) AddCommands(t testing.TB, deviceID string, cmds ...device.Command) {
	t.Helper()
	for i := range cmds {
		c := cmds[i]
		c.DeviceID = deviceID
		if err := s.Repo.CreateCommand(context.Background(), &c); err != nil {
			t.Fatalf("creating command %s: %v", c.LogicalID, err)
		}
	}
}

// Value returns a command's stored value, failing the test if it is missing.
func (s *Store) Value(t testing.TB, deviceID, logicalID string) string {
	t.Helper()
	c, err := s.Repo.GetCommand(context.Background(), deviceID, logicalID)
	if err != nil {
		t.Fatalf("reading command %s: %v", logicalID, err)
	}
	return c.Value
}
