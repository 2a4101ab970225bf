// Token cache persistence: reused across process restarts until expiry,
// guarded by an advisory flock so an accidental second instance cannot
// corrupt the file mid-write.
package broker

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// cachedToken is the on-disk record, msgpack-encoded for compactness.
type cachedToken struct {
	Token     string    `msgpack:"token"`
	ExpiresAt time.Time `msgpack:"expires_at"`
}

// TokenCache reads and writes the access token to a single file on disk,
// taking an exclusive advisory lock on a sibling ".lock" file for the
// duration of each read or write.
type TokenCache struct {
	path     string
	lockPath string
}

func NewTokenCache(path string) *TokenCache {
	return &TokenCache{path: path, lockPath: path + ".lock"}
}

// Load returns the cached token if present and not yet expired. A
// missing file or any decode error is reported as "not found" rather
// than a hard error, so the caller falls through to a fresh token fetch.
func (c *TokenCache) Load() (token string, ok bool, err error) {
	unlock, err := c.lock()
	if err != nil {
		return "", false, err
	}
	defer unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", false, nil
	}
	var ct cachedToken
	if err := msgpack.Unmarshal(data, &ct); err != nil {
		return "", false, nil
	}
	if time.Now().After(ct.ExpiresAt) {
		return "", false, nil
	}
	return ct.Token, true, nil
}

// Store writes a new token and expiry, replacing any prior cache
// contents atomically via a rename.
func (c *TokenCache) Store(token string, expiresAt time.Time) error {
	unlock, err := c.lock()
	if err != nil {
		return err
	}
	defer unlock()

	data, err := msgpack.Marshal(cachedToken{Token: token, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("encode token cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("install token cache: %w", err)
	}
	return nil
}

// lock takes an exclusive flock on the sibling lock file, returning a
// function that releases it.
func (c *TokenCache) lock() (unlock func(), err error) {
	f, err := os.OpenFile(c.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open token cache lock: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock token cache: %w", err)
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}
