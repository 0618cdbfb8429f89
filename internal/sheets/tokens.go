package sheets

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/wolfman30/patient-sheets/internal/selection"
)

// TokenCache persists an issued credential across process restarts.
type TokenCache interface {
	// LoadToken returns nil, nil when nothing is cached.
	LoadToken(ctx context.Context) (*oauth2.Token, error)
	SaveToken(ctx context.Context, tok *oauth2.Token) error
}

// TokenKey is the local-state key holding the cached credential.
const TokenKey = "oauthToken"

// StoreTokenCache keeps the credential as JSON in a local-state store.
type StoreTokenCache struct {
	store selection.Store
}

// NewStoreTokenCache creates a TokenCache backed by store.
func NewStoreTokenCache(store selection.Store) *StoreTokenCache {
	return &StoreTokenCache{store: store}
}

// LoadToken implements TokenCache.
func (c *StoreTokenCache) LoadToken(ctx context.Context) (*oauth2.Token, error) {
	raw, ok, err := c.store.Get(ctx, TokenKey)
	if err != nil {
		return nil, fmt.Errorf("sheets: load cached token: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("sheets: decode cached token: %w", err)
	}
	return &tok, nil
}

// SaveToken implements TokenCache.
func (c *StoreTokenCache) SaveToken(ctx context.Context, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("sheets: encode token: %w", err)
	}
	if err := c.store.Set(ctx, TokenKey, string(raw)); err != nil {
		return fmt.Errorf("sheets: save token: %w", err)
	}
	return nil
}
