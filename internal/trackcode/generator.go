package trackcode

import (
	"context"
	"math/rand/v2"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	DefaultLength      = 10
	DefaultMaxAttempts = 25

	// FallbackPrefix is used when the tenant company name is unknown.
	FallbackPrefix = "TBX"

	publicIDLength   = 7
	publicIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var ErrGenerationExhausted = errors.New("tracking number generation exhausted")

type Rand interface {
	IntN(n int) int
}

// ExistsFunc reports whether a code is already taken. Soft-deleted records
// must count as taken.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

type Generator struct {
	r           Rand
	maxAttempts int
}

func New(r Rand, maxAttempts int) *Generator {
	if r == nil {
		r = globalRand{}
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{r: r, maxAttempts: maxAttempts}
}

func (g *Generator) MaxAttempts() int {
	return g.maxAttempts
}

// Generate returns prefix + length random digits + upper(region).
func (g *Generator) Generate(companyName, region string, length int) string {
	if length <= 0 {
		length = DefaultLength
	}
	var b strings.Builder
	b.Grow(3 + length + len(region))
	b.WriteString(Prefix(companyName))
	for i := 0; i < length; i++ {
		b.WriteByte(byte('0' + g.r.IntN(10)))
	}
	b.WriteString(strings.ToUpper(region))
	return b.String()
}

func (g *Generator) GenerateUnique(ctx context.Context, companyName, region string, length int, exists ExistsFunc) (string, error) {
	code, _, err := g.GenerateWithin(ctx, g.maxAttempts, companyName, region, length, exists)
	return code, err
}

// GenerateWithin is GenerateUnique with the caller's remaining attempt budget.
// It also returns how many attempts it spent.
func (g *Generator) GenerateWithin(ctx context.Context, budget int, companyName, region string, length int, exists ExistsFunc) (string, int, error) {
	for attempt := 1; attempt <= budget; attempt++ {
		code := g.Generate(companyName, region, length)
		taken, err := exists(ctx, code)
		if err != nil {
			return "", attempt, errors.Wrap(err, "check tracking number")
		}
		if !taken {
			return code, attempt, nil
		}
	}
	return "", max(budget, 0), errors.Wrapf(ErrGenerationExhausted, "after %d attempts", budget)
}

// PublicID returns kind + "_" + 7 random lowercase alphanumerics.
func (g *Generator) PublicID(kind string) string {
	var b strings.Builder
	b.Grow(len(kind) + 1 + publicIDLength)
	b.WriteString(kind)
	b.WriteByte('_')
	for i := 0; i < publicIDLength; i++ {
		b.WriteByte(publicIDAlphabet[g.r.IntN(len(publicIDAlphabet))])
	}
	return b.String()
}

func (g *Generator) UUID() string {
	return uuid.NewString()
}

// Prefix is the first three letters of the company name, upper-cased.
func Prefix(companyName string) string {
	name := strings.TrimSpace(companyName)
	if name == "" {
		return FallbackPrefix
	}
	runes := []rune(name)
	if len(runes) > 3 {
		runes = runes[:3]
	}
	return strings.Map(unicode.ToUpper, string(runes))
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }
