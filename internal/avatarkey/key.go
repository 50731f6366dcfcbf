// Package avatarkey derives the opaque per-user token used in avatar URLs
// and cache keys.
//
// A key is "{userID}-{mac}" where mac is the first 10 hex characters of
// HMAC-SHA256(secret, userID). Embedding the id keeps keys collision-free;
// the MAC stops clients from enumerating avatars by id.
package avatarkey

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const macLen = 10

var (
	ErrMissingSecret = errors.New("avatar key secret is not configured")
	ErrInvalidKey    = errors.New("invalid avatar key")
)

// Codec builds and verifies avatar keys.
type Codec struct {
	secret []byte
}

// New creates a codec for secret.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Key returns the avatar key for userID.
func (c *Codec) Key(userID string) string {
	return userID + "-" + c.mac(userID)
}

// Parse verifies key and returns the user id embedded in it.
func (c *Codec) Parse(key string) (string, error) {
	i := strings.LastIndexByte(key, '-')
	if i <= 0 || len(key)-i-1 != macLen {
		return "", ErrInvalidKey
	}
	userID, mac := key[:i], key[i+1:]
	if !hmac.Equal([]byte(mac), []byte(c.mac(userID))) {
		return "", ErrInvalidKey
	}
	return userID, nil
}

func (c *Codec) mac(userID string) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(userID))
	return hex.EncodeToString(h.Sum(nil))[:macLen]
}
