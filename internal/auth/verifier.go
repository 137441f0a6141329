package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"livedesk/pkg/interfaces"
)

// Verifier validates signed bearer tokens of the form
// "<userID>.<expiryUnix>.<hexSignature>" where the signature is an
// HMAC-SHA256 over "<userID>.<expiryUnix>".
type Verifier struct {
	secret []byte
}

var _ interfaces.TokenVerifier = (*Verifier)(nil)

// NewVerifier creates a verifier with the given signing secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// VerifyToken checks the token signature and expiry and returns the
// embedded user ID.
func (v *Verifier) VerifyToken(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" {
		return "", ErrMalformedToken
	}

	userID, expiryRaw, signature := parts[0], parts[1], parts[2]

	expiry, err := strconv.ParseInt(expiryRaw, 10, 64)
	if err != nil {
		return "", ErrMalformedToken
	}
	if time.Now().Unix() > expiry {
		return "", ErrTokenExpired
	}

	if !hmac.Equal([]byte(signature), []byte(v.sign(userID, expiryRaw))) {
		return "", ErrBadSignature
	}

	return userID, nil
}

// IssueToken mints a token for a user, valid for ttl.
func (v *Verifier) IssueToken(userID string, ttl time.Duration) string {
	expiry := strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)
	return fmt.Sprintf("%s.%s.%s", userID, expiry, v.sign(userID, expiry))
}

func (v *Verifier) sign(userID, expiry string) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s.%s", userID, expiry)
	return hex.EncodeToString(mac.Sum(nil))
}
