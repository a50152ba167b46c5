package password

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// parsePHC decodes $argon2id$v=19$m=..,t=..,p=..$salt$hash. Salt and hash
// accept both padded and unpadded standard base64.
func parsePHC(digest string) (*phc, error) {
	fields := strings.Split(digest, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != algorithmID {
		return nil, ErrUnsupportedDigest
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: argon2 version %q", ErrUnsupportedDigest, fields[2])
	}

	out := &phc{}
	seen := 0
	for _, kv := range strings.Split(fields[3], ",") {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q", ErrUnsupportedDigest, kv)
		}
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q", ErrUnsupportedDigest, kv)
		}
		switch key {
		case "m":
			if uint32(n) < minMemoryKB {
				return nil, fmt.Errorf("%w: memory below minimum", ErrUnsupportedDigest)
			}
			out.memory = uint32(n)
		case "t":
			if uint32(n) < minTimeCost {
				return nil, fmt.Errorf("%w: time below minimum", ErrUnsupportedDigest)
			}
			out.time = uint32(n)
		case "p":
			if n < uint64(minParallelism) || n > 255 {
				return nil, fmt.Errorf("%w: parallelism out of range", ErrUnsupportedDigest)
			}
			out.parallelism = uint8(n)
		default:
			return nil, fmt.Errorf("%w: parameter %q", ErrUnsupportedDigest, key)
		}
		seen++
	}
	if seen != 3 || out.memory == 0 || out.time == 0 || out.parallelism == 0 {
		return nil, fmt.Errorf("%w: missing parameters", ErrUnsupportedDigest)
	}

	salt, err := decodeB64(fields[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: salt", ErrUnsupportedDigest)
	}
	sum, err := decodeB64(fields[5])
	if err != nil || len(sum) == 0 {
		return nil, fmt.Errorf("%w: hash", ErrUnsupportedDigest)
	}
	out.salt = salt
	out.hash = sum
	return out, nil
}

func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
