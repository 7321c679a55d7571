package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
)

const (
	// CodeLength — длина одноразового кода.
	CodeLength = 4
	// codeAlphabet — допустимые символы кода.
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// generateCode возвращает случайный код из codeAlphabet.
func generateCode() (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("ошибка генерации кода: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// codesEqual сравнивает введённый код с выданным без учёта регистра
// за постоянное время.
func codesEqual(input, issued string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(input))
	return subtle.ConstantTimeCompare([]byte(normalized), []byte(issued)) == 1
}
