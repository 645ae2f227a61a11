// Package signing implements the HMAC helper behind signed local access URLs.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Signer generates and validates HMAC based signatures over an object key and
// its expiry.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature for key valid until expiresUnix.
func (s *Signer) Sign(key string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	// The separator cannot appear in an expiry, so key/expiry pairs never collide.
	mac.Write([]byte(fmt.Sprintf("%s:%d", key, expiresUnix)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate checks the signature and that the link has not expired.
func (s *Signer) Validate(key, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if s.now().Unix() > exp {
		return false
	}
	expected := s.Sign(key, exp)
	// hmac.Equal performs constant-time comparison.
	return hmac.Equal([]byte(expected), []byte(signature))
}
