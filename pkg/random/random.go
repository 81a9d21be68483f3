package random

import (
	"crypto/rand"
	"math/big"
)

const Alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewRandomString returns a string of length characters drawn uniformly from Alphanumeric.
func NewRandomString(length int) (string, error) {
	charset := big.NewInt(int64(len(Alphanumeric)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, charset)
		if err != nil {
			return "", err
		}
		b[i] = Alphanumeric[n.Int64()]
	}
	return string(b), nil
}
