package fetch

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CodePattern matches a verification code.
var CodePattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// NewVerificationCode returns a fresh XXXX-XXXX code. The code binds the host
// prompt to the dialog for a human comparing them; it is not a secret.
func NewVerificationCode() (string, error) {
	buf := make([]byte, 9)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		if i == 4 {
			buf[i] = '-'
			continue
		}
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate verification code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
