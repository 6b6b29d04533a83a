// Package pairing turns adapter pairing codes into scannable artifacts.
package pairing

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/skip2/go-qrcode"
)

const (
	// DefaultTTL keeps an artifact scannable for two minutes
	DefaultTTL = 120 * time.Second

	defaultSize   = 256
	dataURLPrefix = "data:image/png;base64,"
)

var ErrEmptyCode = errors.New("pairing code is empty")

// Artifact is a rendered pairing code
type Artifact struct {
	SessionID string
	DataURL   string
	ExpiresAt time.Time
}

// Render encodes code as a PNG QR image wrapped in a data URL
func Render(code string) (string, error) {
	if code == "" {
		return "", ErrEmptyCode
	}
	png, err := qrcode.Encode(code, qrcode.Medium, defaultSize)
	if err != nil {
		return "", fmt.Errorf("failed to render pairing code: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}

// Cache keeps the latest artifact per session for a fixed TTL
type Cache struct {
	store *cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		store: cache.New(ttl, 2*ttl),
		ttl:   ttl,
		now:   now,
	}
}

// Put renders code and caches it under sessionID, replacing any previous artifact
func (c *Cache) Put(sessionID, code string) (Artifact, error) {
	url, err := Render(code)
	if err != nil {
		return Artifact{}, err
	}
	artifact := Artifact{
		SessionID: sessionID,
		DataURL:   url,
		ExpiresAt: c.now().Add(c.ttl),
	}
	c.store.Set(sessionID, artifact, cache.DefaultExpiration)
	return artifact, nil
}

func (c *Cache) Get(sessionID string) (Artifact, bool) {
	v, ok := c.store.Get(sessionID)
	if !ok {
		return Artifact{}, false
	}
	artifact, ok := v.(Artifact)
	return artifact, ok
}

// Forget drops the artifact, typically once the session has paired
func (c *Cache) Forget(sessionID string) {
	c.store.Delete(sessionID)
}

func (c *Cache) Len() int {
	return c.store.ItemCount()
}
