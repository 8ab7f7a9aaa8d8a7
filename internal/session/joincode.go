package session

import (
	"crypto/rand"
	"regexp"
)

const joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var joinCodePattern = regexp.MustCompile(`^[A-Z]{3}-[A-Z]{3}$`)

// GenerateJoinCode produces a join code of exactly two three-letter
// uppercase groups joined by a hyphen, each letter drawn uniformly from A-Z.
func GenerateJoinCode() string {
	code := []byte("___-___")
	for _, pos := range []int{0, 1, 2, 4, 5, 6} {
		code[pos] = randLetter()
	}
	return string(code)
}

// randLetter draws one letter uniformly via rejection sampling, avoiding the
// modulo bias of a bare b % 26.
func randLetter() byte {
	limit := byte(256 - 256%len(joinCodeAlphabet))
	var b [1]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			// The platform RNG failing has no reasonable recovery.
			panic(err)
		}
		if b[0] < limit {
			return joinCodeAlphabet[int(b[0])%len(joinCodeAlphabet)]
		}
	}
}

// IsJoinCode reports whether s has the canonical AAA-AAA shape. Join lookups
// still match by exact equality; this only serves display-side checks.
func IsJoinCode(s string) bool {
	return joinCodePattern.MatchString(s)
}
