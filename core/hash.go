package core

import (
	"encoding/hex"
	"strings"
)

// HashLength is the length of a hex encoded object hash.
const HashLength = 40

// Hash identifies an immutable object (commit or table state) by content.
type Hash string

// ZeroHash is the empty hash, used as the parent of the root commit.
const ZeroHash Hash = ""

// ParseHash validates a full hex object id.
func ParseHash(s string) (Hash, bool) {
	if len(s) != HashLength {
		return ZeroHash, false
	}
	s = strings.ToLower(s)
	if _, err := hex.DecodeString(s); err != nil {
		return ZeroHash, false
	}
	return Hash(s), true
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) String() string {
	return string(h)
}

// Short returns the abbreviated form shown to users.
func (h Hash) Short() string {
	if len(h) <= 7 {
		return string(h)
	}
	return string(h[:7])
}
