package platform

import (
	"crypto/rand"

	"github.com/google/uuid"
)

const shortIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const shortIDLength = 10

// NewID returns a random UUID string, used for correlation and temp object names.
func NewID() string {
	return uuid.New().String()
}

// NewName returns prefix followed by a short random lowercase alphanumeric suffix.
func NewName(prefix string) string {
	b := make([]byte, shortIDLength)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	for i := range b {
		b[i] = shortIDAlphabet[b[i]%byte(len(shortIDAlphabet))]
	}
	return prefix + string(b)
}

// NewJobID returns a backup job identifier such as "job_k3v9x0a1b2".
func NewJobID() string {
	return NewName("job_")
}
