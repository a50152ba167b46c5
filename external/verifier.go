// Package external verifies signed login payloads from a chat platform's
// login widget.
//
// The payload is a flat set of string fields plus "hash". The platform signs
// the data-check string (every other field as key=value, sorted by key,
// joined by '\n') with HMAC-SHA256 keyed by SHA-256 of the bot secret.
package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxAge bounds how old an auth_date may be.
	DefaultMaxAge = 24 * time.Hour
	maxClockSkew  = 5 * time.Minute
)

var (
	// ErrInvalidProof covers missing fields and signature mismatch.
	ErrInvalidProof = errors.New("external proof invalid")
	// ErrStaleProof is returned when auth_date is outside the accepted window.
	ErrStaleProof = errors.New("external proof stale")
)

// Proof is the raw payload as received.
type Proof map[string]string

// Claims is the verified content of a proof.
type Claims struct {
	ID        string
	Username  string
	FirstName string
	LastName  string
	PhotoURL  string
	AuthDate  time.Time
}

// DisplayName joins first and last name.
func (c Claims) DisplayName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Verifier checks proofs against a shared secret.
type Verifier struct {
	key    [32]byte
	maxAge time.Duration
	now    func() time.Time
}

// NewVerifier derives the HMAC key from secret. maxAge <= 0 uses DefaultMaxAge.
func NewVerifier(secret string, maxAge time.Duration) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("external secret is required")
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Verifier{key: sha256.Sum256([]byte(secret)), maxAge: maxAge, now: time.Now}, nil
}

// SetClock replaces the time source. Intended for tests.
func (v *Verifier) SetClock(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

// Verify checks the signature and freshness of p.
func (v *Verifier) Verify(p Proof) (*Claims, error) {
	given := strings.ToLower(strings.TrimSpace(p["hash"]))
	id := strings.TrimSpace(p["id"])
	if given == "" || id == "" || p["auth_date"] == "" {
		return nil, ErrInvalidProof
	}

	want := v.sign(p)
	got, err := hex.DecodeString(given)
	if err != nil || !hmac.Equal(got, want) {
		return nil, ErrInvalidProof
	}

	unix, err := strconv.ParseInt(p["auth_date"], 10, 64)
	if err != nil {
		return nil, ErrInvalidProof
	}
	authDate := time.Unix(unix, 0).UTC()
	now := v.now()
	if now.Sub(authDate) > v.maxAge || authDate.Sub(now) > maxClockSkew {
		return nil, ErrStaleProof
	}

	return &Claims{
		ID:        id,
		Username:  strings.TrimSpace(p["username"]),
		FirstName: p["first_name"],
		LastName:  p["last_name"],
		PhotoURL:  p["photo_url"],
		AuthDate:  authDate,
	}, nil
}

// Sign returns the hex signature for p. It lets tests and local tooling
// build proofs the way the platform does.
func (v *Verifier) Sign(p Proof) string {
	return hex.EncodeToString(v.sign(p))
}

func (v *Verifier) sign(p Proof) []byte {
	mac := hmac.New(sha256.New, v.key[:])
	mac.Write([]byte(DataCheckString(p)))
	return mac.Sum(nil)
}

// DataCheckString renders p without "hash" as sorted key=value lines.
func DataCheckString(p Proof) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
	}
	return b.String()
}
