package coupon

import (
	"context"
	"crypto/rand"
	"io"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

const (
	// CodeLength is the length of generated coupon codes.
	CodeLength = 6

	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeBloomSize   = 1_000_000
	codeBloomFPR    = 0.001
	maxCodeAttempts = 32
	alphabetMaxByte = 252 // largest multiple of len(codeAlphabet) <= 256
)

// ErrCodeSpaceExhausted is returned when no free code was found after
// maxCodeAttempts tries.
var ErrCodeSpaceExhausted = errors.New("could not generate unique coupon code")

// ExistsFunc reports whether a code is already persisted.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// CodeGenerator produces random coupon codes. A bloom filter of known codes
// answers "definitely free" without a storage round-trip; positives are
// confirmed with ExistsFunc.
type CodeGenerator struct {
	mu    sync.Mutex
	known *bloom.BloomFilter
	rand  io.Reader
}

// NewCodeGenerator creates a generator pre-loaded with existing codes.
func NewCodeGenerator(existing []string) *CodeGenerator {
	g := &CodeGenerator{
		known: bloom.NewWithEstimates(codeBloomSize, codeBloomFPR),
		rand:  rand.Reader,
	}
	for _, code := range existing {
		g.known.AddString(code)
	}
	return g
}

// Remember marks code as taken.
func (g *CodeGenerator) Remember(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.known.AddString(code)
}

// Next returns a code that is not known to be taken.
func (g *CodeGenerator) Next(ctx context.Context, exists ExistsFunc) (string, error) {
	for range maxCodeAttempts {
		code, err := g.random()
		if err != nil {
			return "", err
		}

		g.mu.Lock()
		maybeTaken := g.known.TestString(code)
		g.mu.Unlock()
		if !maybeTaken {
			return code, nil
		}

		taken, err := exists(ctx, code)
		if err != nil {
			return "", errors.Wrap(err, "check code")
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

func (g *CodeGenerator) random() (string, error) {
	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(out) < CodeLength {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", errors.Wrap(err, "read random")
		}
		for _, b := range buf {
			// Rejection sampling keeps the distribution uniform.
			if b >= alphabetMaxByte {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == CodeLength {
				break
			}
		}
	}
	return string(out), nil
}

// ValidCode reports whether code has the generated format.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := range len(code) {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
