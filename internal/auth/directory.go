package auth

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

// StaticDirectory is a user directory loaded from a YAML file, standing in
// for an external identity service. Lookups are served from memory; Reload
// swaps the whole set atomically.
type StaticDirectory struct {
	mu    sync.RWMutex
	users map[string]*types.User
	path  string
}

var _ interfaces.UserDirectory = (*StaticDirectory)(nil)

type directoryFile struct {
	Users []struct {
		ID       string   `yaml:"id"`
		Name     string   `yaml:"name"`
		Email    string   `yaml:"email"`
		Roles    []string `yaml:"roles"`
		IsActive *bool    `yaml:"is_active"`
	} `yaml:"users"`
}

// NewStaticDirectory loads the directory from path.
func NewStaticDirectory(path string) (*StaticDirectory, error) {
	d := &StaticDirectory{users: make(map[string]*types.User), path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewDirectoryFromUsers builds a directory from an in-memory user list.
func NewDirectoryFromUsers(users ...*types.User) *StaticDirectory {
	d := &StaticDirectory{users: make(map[string]*types.User)}
	for _, user := range users {
		d.users[user.ID] = user
	}
	return d
}

// Reload re-reads the directory file. Users omitted from the file disappear.
func (d *StaticDirectory) Reload() error {
	if d.path == "" {
		return nil
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("failed to read user directory: %w", err)
	}

	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse user directory: %w", err)
	}

	users := make(map[string]*types.User, len(file.Users))
	for _, entry := range file.Users {
		if entry.ID == "" {
			return fmt.Errorf("user directory entry without an id")
		}
		active := true
		if entry.IsActive != nil {
			active = *entry.IsActive
		}
		roles := entry.Roles
		if len(roles) == 0 {
			roles = []string{types.RoleCustomer}
		}
		users[entry.ID] = &types.User{
			ID:       entry.ID,
			Name:     entry.Name,
			Email:    entry.Email,
			Roles:    roles,
			IsActive: active,
		}
	}

	d.mu.Lock()
	d.users = users
	d.mu.Unlock()
	return nil
}

// GetUser returns a user by ID.
func (d *StaticDirectory) GetUser(ctx context.Context, userID string) (*types.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, exists := d.users[userID]
	if !exists {
		return nil, interfaces.ErrUserNotFound
	}
	return user, nil
}

// ListByRole returns every user holding any of the given roles.
func (d *StaticDirectory) ListByRole(ctx context.Context, roles ...string) ([]*types.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var matched []*types.User
	for _, user := range d.users {
		if user.HasRole(roles...) {
			matched = append(matched, user)
		}
	}
	return matched, nil
}
