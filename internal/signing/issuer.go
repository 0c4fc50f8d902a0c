// Package signing mints and verifies the short-lived stream tokens embedded
// in playback URLs.
package signing

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidToken indicates a forged, malformed or revoked token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired indicates a genuine token past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

const (
	// DefaultTTL is the lifetime of a minted stream token.
	DefaultTTL = 5 * time.Minute

	tokenIssuer = "jobreel"
	keyInfo     = "jobreel stream token v1"
)

// RevocationChecker reports whether a video's tokens were revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, videoID string) (bool, error)
}

// Claims is the payload of a stream token. The registered ID carries the
// session nonce bound to the view grant.
type Claims struct {
	VideoID string `json:"vid"`
	GrantID string `json:"gid"`
	jwt.RegisteredClaims
}

// SessionID returns the session nonce.
func (c Claims) SessionID() string { return c.ID }

// Token is a minted stream token and the playback URL that embeds it.
type Token struct {
	Value     string
	URL       string
	SessionID string
	ExpiresAt time.Time
}

// Issuer mints HS256 stream tokens with a key derived from the configured secret.
type Issuer struct {
	key        []byte
	baseURL    string
	defaultTTL time.Duration
	revoked    RevocationChecker

	NowFunc func() time.Time
}

// NewIssuer derives the signing key from secret and returns an Issuer that
// builds URLs under baseURL.
func NewIssuer(secret []byte, baseURL string, defaultTTL time.Duration, revoked RevocationChecker) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret must be provided")
	}
	if revoked == nil {
		return nil, errors.New("revocation checker must be provided")
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}

	return &Issuer{
		key:        key,
		baseURL:    strings.TrimRight(baseURL, "/"),
		defaultTTL: defaultTTL,
		revoked:    revoked,
		NowFunc:    time.Now,
	}, nil
}

func (i *Issuer) now() time.Time {
	if i.NowFunc != nil {
		return i.NowFunc().UTC()
	}
	return time.Now().UTC()
}

// DefaultTTL returns the lifetime used when Mint is called with ttl <= 0.
func (i *Issuer) DefaultTTL() time.Duration { return i.defaultTTL }

// Mint signs a token for the grant with a fresh session nonce.
func (i *Issuer) Mint(_ context.Context, videoID, grantID string, ttl time.Duration) (Token, error) {
	if videoID == "" || grantID == "" {
		return Token{}, errors.New("video id and grant id must be provided")
	}
	if ttl <= 0 {
		ttl = i.defaultTTL
	}

	now := i.now()
	// Numeric dates carry second precision.
	expiresAt := now.Add(ttl).Truncate(time.Second)
	sessionID := uuid.NewString()

	claims := Claims{
		VideoID: videoID,
		GrantID: grantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}

	return Token{
		Value:     signed,
		URL:       i.StreamURL(videoID, signed),
		SessionID: sessionID,
		ExpiresAt: expiresAt,
	}, nil
}

// StreamURL builds the playback URL for a token.
func (i *Issuer) StreamURL(videoID, token string) string {
	return fmt.Sprintf("%s/stream/%s?token=%s", i.baseURL, url.PathEscape(videoID), url.QueryEscape(token))
}

// Verify checks signature, expiry and the video's revocation marker. A
// marker lookup failure is returned as an error so callers deny access.
func (i *Issuer) Verify(ctx context.Context, token string) (Claims, error) {
	claims, err := i.parse(token, jwt.WithExpirationRequired(), jwt.WithTimeFunc(i.now))
	if err != nil {
		return Claims{}, err
	}

	revoked, err := i.revoked.IsRevoked(ctx, claims.VideoID)
	if err != nil {
		return Claims{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Claims{}, ErrInvalidToken
	}

	return claims, nil
}

// Inspect checks the signature and claim shape but not expiry. Revocation is
// left to the caller.
func (i *Issuer) Inspect(token string) (Claims, error) {
	return i.parse(token, jwt.WithoutClaimsValidation())
}

func (i *Issuer) parse(token string, opts ...jwt.ParserOption) (Claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return i.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrInvalidToken
	}

	if claims.Issuer != tokenIssuer || claims.VideoID == "" || claims.GrantID == "" || claims.ID == "" || claims.ExpiresAt == nil {
		return Claims{}, ErrInvalidToken
	}

	return claims, nil
}
