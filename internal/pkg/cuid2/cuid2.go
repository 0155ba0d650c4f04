// Package cuid2 generates collision-resistant prefixed identifiers for
// tasks, runs, and audit records (e.g. "task_0CL2KwaB3cD5eF7gH9iJ1k").
package cuid2

import (
	crypto_rand "crypto/rand"
	"strings"
	"time"
)

// Base62 alphabet: 0-9, A-Z, a-z (62 characters)
const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const randomLength = 18

// encodeTimestampBase62 encodes a Unix timestamp (seconds) as a 6-character
// base62 string. Lexicographically sortable, which keeps ids with B-tree
// index locality when used as primary keys.
func encodeTimestampBase62(timestampSeconds int64) string {
	n := timestampSeconds
	result := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		result[i] = base62Alphabet[n%62]
		n = n / 62
	}
	return string(result)
}

// randomBase62 generates a random base62 string using bit extraction with
// rejection sampling for uniform distribution: 6 bits at a time, values
// >= 62 rejected (~3% rejection rate).
func randomBase62(length int) string {
	bytesNeeded := (length*6)/8 + 4
	bytes := make([]byte, bytesNeeded)
	if _, err := crypto_rand.Read(bytes); err != nil {
		panic("failed to read random bytes: " + err.Error())
	}

	var result strings.Builder
	bitBuffer := uint64(0)
	bitsInBuffer := uint(0)
	byteIndex := 0

	for result.Len() < length {
		for bitsInBuffer < 6 && byteIndex < len(bytes) {
			bitBuffer = (bitBuffer << 8) | uint64(bytes[byteIndex])
			bitsInBuffer += 8
			byteIndex++
		}

		value := (bitBuffer >> (bitsInBuffer - 6)) & 0x3f
		bitsInBuffer -= 6

		if value < 62 {
			result.WriteByte(base62Alphabet[value])
		}

		// If we run out of bytes (unlikely), get more
		if byteIndex >= len(bytes) && result.Len() < length {
			if _, err := crypto_rand.Read(bytes); err != nil {
				panic("failed to read random bytes: " + err.Error())
			}
			byteIndex = 0
			bitBuffer = 0
			bitsInBuffer = 0
		}
	}

	return result.String()
}

// New generates a prefixed id with a time-sortable 6-char base62 timestamp
// followed by 18 random base62 characters.
//
//	New("task") // "task_0CL2KwaB3cD5eF7gH9iJ1k"
func New(prefix string) string {
	return prefix + "_" + encodeTimestampBase62(time.Now().Unix()) + randomBase62(randomLength)
}
