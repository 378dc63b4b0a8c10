package chart

import "crypto/rand"

// idAlphabet is the 64-symbol URL-safe alphabet public ids are drawn from.
const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"

// IDLength is the fixed length of a public chart id.
const IDLength = 10

// GenerateID produces a random public chart id. No uniqueness check happens
// here; the primary key on the charts table is the only collision guard.
func GenerateID() string {
	b := make([]byte, IDLength)
	rand.Read(b)
	for i := range b {
		// 64 symbols, so masking to 6 bits stays uniform.
		b[i] = idAlphabet[b[i]&63]
	}
	return string(b)
}
