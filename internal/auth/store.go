package auth

import (
	"context"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// FileClientStore serves API clients registered in a YAML file:
//
//	clients:
//	  - id: shop-frontend
//	    secret_hash: $2a$10$...
//	    scopes: [clients:read, ledger:read]
type FileClientStore struct {
	clients map[string]*APIClient
}

type clientsFile struct {
	Clients []APIClient `yaml:"clients"`
}

// LoadClientStore reads the clients file at path.
func LoadClientStore(path string) (*FileClientStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clients file: %w", err)
	}
	var f clientsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse clients file: %w", err)
	}
	return NewStaticClientStore(f.Clients...)
}

// NewStaticClientStore builds a store from clients already in memory.
func NewStaticClientStore(clients ...APIClient) (*FileClientStore, error) {
	s := &FileClientStore{clients: make(map[string]*APIClient, len(clients))}
	for i := range clients {
		c := clients[i]
		if c.ID == "" || c.SecretHash == "" {
			return nil, fmt.Errorf("api client %d: id and secret_hash are required", i)
		}
		if _, dup := s.clients[c.ID]; dup {
			return nil, fmt.Errorf("api client %q registered twice", c.ID)
		}
		for _, scope := range c.Scopes {
			if !slices.Contains(AllScopes, scope) {
				return nil, fmt.Errorf("api client %q: unknown scope %q", c.ID, scope)
			}
		}
		s.clients[c.ID] = &c
	}
	return s, nil
}

func (s *FileClientStore) GetClient(_ context.Context, clientID string) (*APIClient, error) {
	c, ok := s.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp, nil
}

func (s *FileClientStore) Len() int { return len(s.clients) }
