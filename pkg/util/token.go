package utils

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// NewToken returns a 128-bit random identifier formatted like a UUID.
// Collision probability is negligible over a process lifetime, so tokens
// are not tracked for exhaustion.
func NewToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

// NewSessionId returns a random 64-bit session identifier. Callers are
// expected to collision-check against their live set.
func NewSessionId() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return binary.BigEndian.Uint64(b[:])
}

func Contains(needle string, haystack []string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
