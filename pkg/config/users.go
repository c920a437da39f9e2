package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/assetvault/pkg/assets"
)

type usersFile struct {
	Users []struct {
		ID        string `yaml:"id"`
		Name      string `yaml:"name"`
		Email     string `yaml:"email"`
		Role      string `yaml:"role"`
		CompanyID string `yaml:"company_id"`
	} `yaml:"users"`
}

// LoadUsers reads the identity seed file:
//
//	users:
//	  - id: u-1
//	    name: Ada
//	    role: admin
//	    company_id: acme
func LoadUsers(path string) ([]*assets.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}
	return ParseUsers(data)
}

// ParseUsers decodes and validates a users document
func ParseUsers(data []byte) ([]*assets.User, error) {
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse users file: %w", err)
	}

	seen := make(map[string]bool, len(f.Users))
	users := make([]*assets.User, 0, len(f.Users))
	for i, u := range f.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("user %d: id is required", i)
		}
		if seen[u.ID] {
			return nil, fmt.Errorf("user %s: duplicate id", u.ID)
		}
		seen[u.ID] = true

		role := assets.Role(u.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("user %s: invalid role %q", u.ID, u.Role)
		}

		user := &assets.User{ID: u.ID, Name: u.Name, Email: u.Email, Role: role}
		if u.CompanyID != "" {
			user.CompanyID = assets.StringPtr(u.CompanyID)
		}
		users = append(users, user)
	}
	return users, nil
}
