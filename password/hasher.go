package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

var (
	// ErrEmptyPassword is returned when an empty plaintext is hashed.
	ErrEmptyPassword = errors.New("password must not be empty")
	// ErrUnsupportedDigest is returned for digests that are neither argon2id PHC strings nor bcrypt.
	ErrUnsupportedDigest = errors.New("unsupported password digest")
)

// Config holds the argon2id work factor and the bound on concurrent hash
// computations.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// MaxConcurrent bounds simultaneous Hash/Verify calls. Zero means
	// unbounded.
	MaxConcurrent int64
}

// DefaultConfig returns the recommended argon2id parameters.
func DefaultConfig() Config {
	return Config{
		Memory:        64 * 1024,
		Time:          3,
		Parallelism:   2,
		SaltLength:    16,
		KeyLength:     32,
		MaxConcurrent: 8,
	}
}

// Validate checks the work factor against the minimums this package accepts.
func (c Config) Validate() error {
	if c.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if c.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if c.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if c.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if c.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	if c.MaxConcurrent < 0 {
		return errors.New("password max concurrent must be >= 0")
	}
	return nil
}

// Hasher produces argon2id digests and verifies both argon2id and legacy
// bcrypt digests. It is safe for concurrent use.
type Hasher struct {
	cfg   Config
	sem   *semaphore.Weighted
	dummy string
}

// New validates cfg and returns a Hasher.
func New(cfg Config) (*Hasher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Hasher{cfg: cfg}
	if cfg.MaxConcurrent > 0 {
		h.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	h.dummy = h.encode(make([]byte, cfg.SaltLength), make([]byte, cfg.KeyLength))
	return h, nil
}

// Hash returns a PHC-encoded argon2id digest of plaintext with a fresh salt.
//
// Plaintext bytes are used exactly as given; no Unicode normalization is
// applied. Hash blocks while the concurrency bound is saturated and returns
// ctx.Err() if the context ends first.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.release()

	salt := make([]byte, h.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	sum := argon2.IDKey([]byte(plaintext), salt, h.cfg.Time, h.cfg.Memory, h.cfg.Parallelism, h.cfg.KeyLength)
	return h.encode(salt, sum), nil
}

func (h *Hasher) encode(salt, sum []byte) string {
	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.cfg.Memory,
		h.cfg.Time,
		h.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	)
}

// VerifyDummy spends the same work as a Verify against a digest made with the
// configured parameters. Callers use it when there is no stored digest so the
// response time does not reveal that.
func (h *Hasher) VerifyDummy(ctx context.Context, plaintext string) {
	_, _ = h.Verify(ctx, plaintext, h.dummy)
}

// Verify reports whether plaintext matches digest. A mismatch is (false, nil);
// an error means the digest could not be interpreted or the context ended.
func (h *Hasher) Verify(ctx context.Context, plaintext, digest string) (bool, error) {
	if err := h.acquire(ctx); err != nil {
		return false, err
	}
	defer h.release()

	if isBcrypt(digest) {
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrUnsupportedDigest, err)
		}
	}

	p, err := parsePHC(digest)
	if err != nil {
		return false, err
	}
	sum := argon2.IDKey([]byte(plaintext), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.hash)))
	return subtle.ConstantTimeCompare(sum, p.hash) == 1, nil
}

// NeedsUpgrade reports whether digest should be replaced by a fresh Hash on
// the next successful verification: bcrypt digests always, argon2id digests
// when any parameter is weaker than the configured one. Unparseable digests
// report false.
func (h *Hasher) NeedsUpgrade(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	p, err := parsePHC(digest)
	if err != nil {
		return false
	}
	return p.memory < h.cfg.Memory ||
		p.time < h.cfg.Time ||
		p.parallelism < h.cfg.Parallelism ||
		uint32(len(p.hash)) != h.cfg.KeyLength
}

func (h *Hasher) acquire(ctx context.Context) error {
	if h.sem == nil {
		return ctx.Err()
	}
	return h.sem.Acquire(ctx, 1)
}

func (h *Hasher) release() {
	if h.sem != nil {
		h.sem.Release(1)
	}
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}
