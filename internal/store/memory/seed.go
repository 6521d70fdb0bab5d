package memory

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/wolfeidau/sessiond/internal/models"
	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk layout of a user seed file:
//
//	users:
//	  - user_id: 0190c6f2-...
//	    email: a@x.com
//	    role: donor
//	    password_hash: $2a$12$...
type seedFile struct {
	Users []*models.User `yaml:"users"`
}

// LoadUsers reads a YAML seed file and adds every user to the store.
// It returns the number of users loaded.
func (s *UserStore) LoadUsers(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read user seed file: %w", err)
	}

	users, err := parseSeed(data)
	if err != nil {
		return 0, err
	}

	for _, u := range users {
		s.Add(u)
	}

	return len(users), nil
}

func parseSeed(data []byte) ([]*models.User, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse user seed file: %w", err)
	}

	for i, u := range seed.Users {
		if u == nil {
			return nil, fmt.Errorf("user %d: empty entry", i)
		}
		if u.Email == "" {
			return nil, fmt.Errorf("user %d: email is required", i)
		}
		if u.PasswordHash == "" {
			return nil, fmt.Errorf("user %s: password_hash is required", u.Email)
		}
		if u.UserID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return nil, err
			}
			u.UserID = id
		}
		if u.Role == "" {
			return nil, fmt.Errorf("user %s: role is required", u.Email)
		}
	}

	return seed.Users, nil
}
