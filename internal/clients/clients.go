// Package clients provides the client directory consumed by the device
// flow. Clients are registered out of band; this package only resolves
// and gates them.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/wrale/oauth2-device-server/internal/deviceflow"
)

// StaticDirectory is a read-mostly in-memory client registry, loaded at
// startup from a JSON file or seeded programmatically.
type StaticDirectory struct {
	mu   sync.RWMutex
	byID map[string]*deviceflow.Client
}

// NewStaticDirectory creates a directory holding the given clients
func NewStaticDirectory(list ...deviceflow.Client) *StaticDirectory {
	d := &StaticDirectory{byID: make(map[string]*deviceflow.Client, len(list))}
	for i := range list {
		client := list[i]
		d.byID[client.ID] = &client
	}
	return d
}

// LoadFile creates a directory from a JSON file containing an array of
// client definitions.
func LoadFile(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading clients file: %w", err)
	}

	var list []deviceflow.Client
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing clients file %s: %w", path, err)
	}
	for _, client := range list {
		if client.ID == "" {
			return nil, fmt.Errorf("clients file %s: client with empty client_id", path)
		}
	}
	return NewStaticDirectory(list...), nil
}

// Lookup resolves a client by identifier
func (d *StaticDirectory) Lookup(_ context.Context, clientID string) (*deviceflow.Client, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	client, exists := d.byID[clientID]
	if !exists {
		return nil, fmt.Errorf("client %q not registered: %w", clientID, deviceflow.ErrInvalidClient)
	}
	dup := *client
	return &dup, nil
}

// Register adds or replaces a client. Used by dev-mode seeding.
func (d *StaticDirectory) Register(client deviceflow.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[client.ID] = &client
}
