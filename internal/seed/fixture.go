// Package seed loads YAML fixtures and applies them through the engine
// services, so seeded data satisfies the same invariants as live traffic.
package seed

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"shelfshare/internal/service"
)

// Fixture is the top-level seed document.
type Fixture struct {
	Users  []User  `yaml:"users"`
	Forums []Forum `yaml:"forums"`
}

// User is an account plus the books on its shelf.
type User struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Books    []Book `yaml:"books,omitempty"`
}

// Book names a catalog item by title and author.
type Book struct {
	Title  string `yaml:"title"`
	Author string `yaml:"author"`
	Genre  string `yaml:"genre,omitempty"`
}

// Forum is created by Creator, joined by Members and administered by Creator
// plus Admins. Hidden books must be on some seeded user's shelf.
type Forum struct {
	Name        string   `yaml:"name"`
	Location    string   `yaml:"location"`
	Description string   `yaml:"description,omitempty"`
	Creator     string   `yaml:"creator"`
	Members     []string `yaml:"members,omitempty"`
	Admins      []string `yaml:"admins,omitempty"`
	Hidden      []Book   `yaml:"hidden,omitempty"`
}

// Load reads and validates a fixture file.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a fixture. Unknown keys are rejected.
func Parse(data []byte) (*Fixture, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f Fixture
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks cross references between users and forums.
func (f *Fixture) Validate() error {
	users := make(map[string]struct{}, len(f.Users))
	owned := make(map[string]struct{})
	for i, u := range f.Users {
		key := emailKey(u.Email)
		if key == "" {
			return fmt.Errorf("users[%d]: email is required", i)
		}
		if _, dup := users[key]; dup {
			return fmt.Errorf("users[%d]: duplicate email %q", i, u.Email)
		}
		users[key] = struct{}{}
		for _, b := range u.Books {
			owned[service.IdentityKey(b.Title, b.Author)] = struct{}{}
		}
	}

	for i, forum := range f.Forums {
		if _, ok := users[emailKey(forum.Creator)]; !ok {
			return fmt.Errorf("forums[%d] %q: unknown creator %q", i, forum.Name, forum.Creator)
		}
		members := map[string]struct{}{emailKey(forum.Creator): {}}
		for _, m := range forum.Members {
			if _, ok := users[emailKey(m)]; !ok {
				return fmt.Errorf("forums[%d] %q: unknown member %q", i, forum.Name, m)
			}
			members[emailKey(m)] = struct{}{}
		}
		for _, a := range forum.Admins {
			if _, ok := members[emailKey(a)]; !ok {
				return fmt.Errorf("forums[%d] %q: admin %q is not a member", i, forum.Name, a)
			}
		}
		for _, h := range forum.Hidden {
			if _, ok := owned[service.IdentityKey(h.Title, h.Author)]; !ok {
				return fmt.Errorf("forums[%d] %q: hidden book %q is not on any shelf", i, forum.Name, h.Title)
			}
		}
	}
	return nil
}
