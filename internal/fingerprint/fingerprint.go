// Package fingerprint derives the content-addressed identity of feed entries.
//
// An entry is identified solely by its link. Titles, timestamps and rendered
// text never participate, so an entry whose title is edited upstream is still
// recognised as already published.
//
// Digests are plain SHA-256 over the link's UTF-8 bytes, hex encoded. There is
// no domain prefix: caches written by earlier releases of the bot hold bare
// sha256(link) values and must keep matching.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the length of a hex-encoded digest.
const Size = sha256.Size * 2

// ErrMissingLink is returned when an entry has no link to derive a digest from.
var ErrMissingLink = errors.New("entry has no link")

// Digest is the hex-encoded SHA-256 of an entry link.
type Digest string

// Of computes the digest of link. It never fails; an empty link still hashes,
// callers that must reject missing links use FromLink.
func Of(link string) Digest {
	sum := sha256.Sum256([]byte(link))
	return Digest(hex.EncodeToString(sum[:]))
}

// FromLink computes the digest of link, rejecting empty links.
func FromLink(link string) (Digest, error) {
	if link == "" {
		return "", ErrMissingLink
	}
	return Of(link), nil
}

// Parse validates a persisted digest string.
// Only lowercase hex of the exact SHA-256 length is accepted.
func Parse(s string) (Digest, error) {
	if len(s) != Size {
		return "", fmt.Errorf("invalid digest %q: want %d hex characters, got %d", s, Size, len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("invalid digest %q: non-hex character at offset %d", s, i)
		}
	}
	return Digest(s), nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParse(s string) Digest {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Digest) String() string {
	return string(d)
}

// Short returns an abbreviated form for log output.
func (d Digest) Short() string {
	if len(d) <= 12 {
		return string(d)
	}
	return string(d[:12])
}
