package jwt

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Purpose is carried in the "pur" claim and selects the signing key.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
)

var (
	// ErrExpired is returned for a correctly signed token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrMalformed covers undecodable tokens, bad signatures and failed
	// issuer/audience checks.
	ErrMalformed = errors.New("token malformed")
	// ErrWrongPurpose is returned when a valid token of the other purpose is
	// presented.
	ErrWrongPurpose = errors.New("token has wrong purpose")
)

// KeyPair is the signing material for one purpose. HS256 uses Private as the
// shared secret and ignores Public. Ed25519 accepts raw keys or PEM.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// Config configures an Issuer. Access and Refresh must not share key
// material.
type Config struct {
	SigningMethod SigningMethod
	Access        KeyPair
	Refresh       KeyPair
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
}

// Claims is the payload of both token kinds.
type Claims struct {
	Role     string  `json:"role,omitempty"`
	Purpose  Purpose `json:"pur"`
	Remember bool    `json:"rem,omitempty"`
	jwt.RegisteredClaims
}

// Token is a freshly signed token.
type Token struct {
	Value     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type keys struct {
	sign   any
	verify any
}

// Issuer mints and verifies access and refresh tokens with independent keys.
type Issuer struct {
	cfg     Config
	method  jwt.SigningMethod
	access  keys
	refresh keys
	now     func() time.Time
}

// NewIssuer validates cfg and decodes key material.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}

	i := &Issuer{cfg: cfg, now: time.Now}
	var err error
	switch cfg.SigningMethod {
	case MethodHS256:
		i.method = jwt.SigningMethodHS256
		if len(cfg.Access.Private) < 32 || len(cfg.Refresh.Private) < 32 {
			return nil, errors.New("hs256 secrets must be at least 32 bytes")
		}
		if bytes.Equal(cfg.Access.Private, cfg.Refresh.Private) {
			return nil, errors.New("access and refresh secrets must differ")
		}
		i.access = keys{sign: cfg.Access.Private, verify: cfg.Access.Private}
		i.refresh = keys{sign: cfg.Refresh.Private, verify: cfg.Refresh.Private}
	case MethodEd25519:
		i.method = jwt.SigningMethodEdDSA
		if i.access, err = edKeys(cfg.Access); err != nil {
			return nil, fmt.Errorf("access key: %w", err)
		}
		if i.refresh, err = edKeys(cfg.Refresh); err != nil {
			return nil, fmt.Errorf("refresh key: %w", err)
		}
		if bytes.Equal(i.access.verify.(ed25519.PublicKey), i.refresh.verify.(ed25519.PublicKey)) {
			return nil, errors.New("access and refresh keys must differ")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return i, nil
}

// SetClock replaces the time source. Intended for tests.
func (i *Issuer) SetClock(now func() time.Time) {
	if now != nil {
		i.now = now
	}
}

// IssueAccess mints an access token valid for ttl.
func (i *Issuer) IssueAccess(subject, role string, remember bool, ttl time.Duration) (Token, error) {
	return i.issue(PurposeAccess, subject, role, remember, ttl)
}

// IssueRefresh mints a refresh token valid for ttl. Every refresh token
// carries a fresh jti so two tokens issued in the same second still differ.
func (i *Issuer) IssueRefresh(subject, role string, remember bool, ttl time.Duration) (Token, error) {
	return i.issue(PurposeRefresh, subject, role, remember, ttl)
}

func (i *Issuer) issue(p Purpose, subject, role string, remember bool, ttl time.Duration) (Token, error) {
	if subject == "" {
		return Token{}, errors.New("token subject is required")
	}
	if ttl <= 0 {
		return Token{}, errors.New("token ttl must be > 0")
	}
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	jti := uuid.NewString()

	claims := Claims{
		Role:     role,
		Purpose:  p,
		Remember: remember,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if i.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.keysFor(p).sign)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ID: jti, IssuedAt: now, ExpiresAt: exp}, nil
}

// Verify checks signature, expiry, issuer, audience and purpose.
//
// A token that fails the expected key but verifies under the other
// purpose's key is reported as ErrWrongPurpose, so presenting an access
// token to the refresh path (or the reverse) is distinguishable from
// garbage.
func (i *Issuer) Verify(token string, expected Purpose) (*Claims, error) {
	claims, err := i.parse(token, expected, true)
	if err == nil {
		if claims.Purpose != expected {
			return nil, ErrWrongPurpose
		}
		return claims, nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpired
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		if _, otherErr := i.parse(token, other(expected), false); otherErr == nil {
			return nil, ErrWrongPurpose
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
}

// ParseRefreshForRevocation verifies a refresh token's signature and purpose
// but tolerates expiry, so a logout with an expired token can still locate
// the session it names.
func (i *Issuer) ParseRefreshForRevocation(token string) (*Claims, error) {
	claims, err := i.parse(token, PurposeRefresh, false)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			if _, otherErr := i.parse(token, PurposeAccess, false); otherErr == nil {
				return nil, ErrWrongPurpose
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if claims.Purpose != PurposeRefresh {
		return nil, ErrWrongPurpose
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformed)
	}
	return claims, nil
}

func (i *Issuer) parse(token string, p Purpose, validateClaims bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if !validateClaims {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	if i.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(i.cfg.Leeway))
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}
	if i.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(i.cfg.Audience))
	}

	verifyKey := i.keysFor(p).verify
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return verifyKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if validateClaims && claims.IssuedAt != nil && claims.IssuedAt.After(i.now().Add(i.cfg.MaxFutureIAT)) {
		return nil, errors.New("token iat too far in the future")
	}
	return claims, nil
}

func (i *Issuer) keysFor(p Purpose) keys {
	if p == PurposeRefresh {
		return i.refresh
	}
	return i.access
}

func other(p Purpose) Purpose {
	if p == PurposeRefresh {
		return PurposeAccess
	}
	return PurposeRefresh
}

func edKeys(kp KeyPair) (keys, error) {
	var k keys
	if len(kp.Private) > 0 {
		priv, err := parseEdPrivateKey(kp.Private)
		if err != nil {
			return k, err
		}
		k.sign = priv
		k.verify = priv.Public().(ed25519.PublicKey)
	}
	if len(kp.Public) > 0 {
		pub, err := parseEdPublicKey(kp.Public)
		if err != nil {
			return k, err
		}
		k.verify = pub
	}
	if k.verify == nil {
		return k, errors.New("ed25519 requires a private or public key")
	}
	return k, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
