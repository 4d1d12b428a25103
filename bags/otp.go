package bags

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"

	"github.com/theplant/luhn"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// ONE-TIME CODES
// =============================================================================

// CodeLength is the number of digits in an issuance code: five random
// digits followed by a Luhn check digit.
const CodeLength = 6

var randomSpace = big.NewInt(100000)

// CodeGenerator produces plain issuance codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// LuhnCodes draws codes from crypto/rand.
type LuhnCodes struct{}

func (LuhnCodes) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, randomSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return CodeWithCheckDigit(int(n.Int64())), nil
}

// CodeWithCheckDigit formats a 5-digit body and appends its check digit.
func CodeWithCheckDigit(body int) string {
	return fmt.Sprintf("%05d%d", body, luhn.CalculateLuhn(body))
}

// WellFormedCode reports whether code is six digits with a valid check digit.
// Typos are rejected here without touching the stored hash.
func WellFormedCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return false
	}
	return luhn.Valid(n)
}

// CodeHasher stores codes as bcrypt hashes.
type CodeHasher struct {
	Cost int
}

func (h CodeHasher) Hash(code string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}
	return string(out), nil
}

func (h CodeHasher) Matches(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
