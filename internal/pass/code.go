// Package pass issues booking codes and the scan tokens printed on passes.
package pass

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeGenerator produces short human-readable booking codes like FIT-7KQ2MX.
// Uniqueness is enforced by storage; callers retry on collision.
type CodeGenerator struct {
	prefix string
	length int
}

func NewCodeGenerator(prefix string, length int) *CodeGenerator {
	if length <= 0 {
		length = 6
	}
	return &CodeGenerator{prefix: strings.ToUpper(prefix), length: length}
}

func (g *CodeGenerator) Generate() (string, error) {
	var b strings.Builder
	if g.prefix != "" {
		b.WriteString(g.prefix)
		b.WriteByte('-')
	}
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < g.length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate booking code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode upper-cases and trims a code typed in by venue staff.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
