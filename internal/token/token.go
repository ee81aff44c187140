// Package token signs and verifies challenge pass tokens.
//
// A pass token proves that a client solved a challenge. It is a base64url
// JSON payload and an HMAC-SHA256 signature joined by a dot. Tokens are
// bearer credentials; single use is enforced by the challenge engine, which
// marks the session consumed on redemption.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token expired")
)

// MaxFieldLength bounds session and client identifiers embedded in a token.
const MaxFieldLength = 256

// payload structure for encoding/decoding
type payload struct {
	SessionID string `json:"s"`
	ClientID  string `json:"c"`
	TS        int64  `json:"t"`
}

// Pass is the verified content of a pass token.
type Pass struct {
	SessionID string
	ClientID  string
	IssuedAt  time.Time
}

// Generate creates a signed pass token for a verified challenge session.
func Generate(sessionID, clientID string, secret []byte) (string, error) {
	return GenerateAt(sessionID, clientID, time.Now(), secret)
}

// GenerateAt is Generate with an explicit issue time.
func GenerateAt(sessionID, clientID string, issuedAt time.Time, secret []byte) (string, error) {
	if sessionID == "" || len(sessionID) > MaxFieldLength || len(clientID) > MaxFieldLength {
		return "", ErrInvalid
	}
	data, err := json.Marshal(payload{SessionID: sessionID, ClientID: clientID, TS: issuedAt.Unix()})
	if err != nil {
		return "", err
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(data) + "." + enc.EncodeToString(sign(data, secret)), nil
}

func sign(data, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return mac.Sum(nil)
}

// Verify checks the token integrity and expiry and returns its content.
// A ttl of zero disables the expiry check.
func Verify(token string, secret []byte, ttl time.Duration) (Pass, error) {
	return VerifyAt(token, secret, ttl, time.Now())
}

// VerifyAt is Verify evaluated at now.
func VerifyAt(token string, secret []byte, ttl time.Duration, now time.Time) (Pass, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Pass{}, ErrInvalid
	}
	enc := base64.RawURLEncoding
	data, err := enc.DecodeString(parts[0])
	if err != nil {
		return Pass{}, ErrInvalid
	}
	sig, err := enc.DecodeString(parts[1])
	if err != nil {
		return Pass{}, ErrInvalid
	}
	if !hmac.Equal(sign(data, secret), sig) {
		return Pass{}, ErrInvalid
	}

	var pl payload
	if err := json.Unmarshal(data, &pl); err != nil || pl.SessionID == "" {
		return Pass{}, ErrInvalid
	}
	issued := time.Unix(pl.TS, 0)
	if ttl > 0 && now.Sub(issued) > ttl {
		return Pass{}, ErrExpired
	}
	return Pass{SessionID: pl.SessionID, ClientID: pl.ClientID, IssuedAt: issued}, nil
}
