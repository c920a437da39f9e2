package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetvault/pkg/assets"
)

func TestParseUsers(t *testing.T) {
	users, err := ParseUsers([]byte(`
users:
  - id: u-1
    name: Ada
    role: admin
    company_id: acme
  - id: u-2
    name: Sia
    email: sia@example.com
    role: seo_specialist
`))
	require.NoError(t, err)
	require.Len(t, users, 2)

	assert.Equal(t, assets.RoleAdmin, users[0].Role)
	require.NotNil(t, users[0].CompanyID)
	assert.Equal(t, "acme", *users[0].CompanyID)

	assert.Equal(t, "sia@example.com", users[1].Email)
	assert.Nil(t, users[1].CompanyID)
}

func TestParseUsersErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"bad yaml", "users: [", "failed to parse users file"},
		{"missing id", "users:\n  - name: x\n    role: admin\n", "id is required"},
		{"duplicate", "users:\n  - id: a\n    role: admin\n  - id: a\n    role: admin\n", "duplicate id"},
		{"bad role", "users:\n  - id: a\n    role: wizard\n", "invalid role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUsers([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users:\n  - id: a\n    role: content_creator\n"), 0o600))

	users, err := LoadUsers(path)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "a", users[0].ID)

	_, err = LoadUsers(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read users file")
}
