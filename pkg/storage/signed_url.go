package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken covers malformed tokens and signature mismatches.
	ErrInvalidToken = errors.New("invalid link token")
	// ErrTokenExpired is returned for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("link token expired")
)

// BlobLink is the payload of a signed blob download token.
type BlobLink struct {
	BlobID    string
	Name      string
	ExpiresAt time.Time
}

// SignedURLSigner creates and validates signed blob download tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a token granting read access to blobID. The name is the
// file name a browser should save the payload under.
func (s *SignedURLSigner) Generate(blobID, name string) (string, time.Time, error) {
	if blobID == "" || name == "" {
		return "", time.Time{}, fmt.Errorf("blob id and name required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedName := base64.RawURLEncoding.EncodeToString([]byte(name))
	token := strings.Join([]string{blobID, ts, encodedName, s.sign(blobID, ts, encodedName)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded link.
func (s *SignedURLSigner) Parse(token string) (BlobLink, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return BlobLink{}, fmt.Errorf("%w: expected 4 segments", ErrInvalidToken)
	}
	blobID, ts, encodedName, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(blobID, ts, encodedName)), []byte(signature)) {
		return BlobLink{}, fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}
	name, err := base64.RawURLEncoding.DecodeString(encodedName)
	if err != nil {
		return BlobLink{}, fmt.Errorf("%w: decode name: %v", ErrInvalidToken, err)
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return BlobLink{}, fmt.Errorf("%w: invalid timestamp", ErrInvalidToken)
	}
	link := BlobLink{BlobID: blobID, Name: string(name), ExpiresAt: time.Unix(expUnix, 0)}
	if s.now().After(link.ExpiresAt) {
		return BlobLink{}, ErrTokenExpired
	}
	return link, nil
}

func (s *SignedURLSigner) sign(blobID, ts, encodedName string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(blobID + "|" + ts + "|" + encodedName))
	return hex.EncodeToString(mac.Sum(nil))
}
