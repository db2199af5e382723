/*
codegen.go - Unique human-readable redemption code generation

PURPOSE:
  Produces collision-free credit codes like "SC-K7MF-PQ2X-9H4T":
  a fixed prefix, random groups from an unambiguous alphabet, and a
  time-derived suffix. Uniqueness is probabilistic; on collision with an
  existing code the generator retries with fresh randomness, bounded.

WHY THE TIME SUFFIX?
  Two codes generated in different seconds can only collide if the random
  groups AND the encoded second collide, which shrinks the window in which
  the random part has to carry uniqueness on its own.

CORRECTNESS BACKSTOP:
  The store's unique constraint on credits.code is authoritative. Even if
  two concurrent generators emit the same code between CodeExists checks,
  exactly one CreateCredit wins; the loser sees ErrDuplicateCode.

SEE ALSO:
  - engine.go: Issue retries once on ErrDuplicateCode
  - store.go: CodeExists
*/
package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// codeAlphabet omits 0/O/1/I/L to keep codes unambiguous when read aloud
// or typed from a printed card.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const (
	defaultCodePrefix  = "SC"
	defaultMaxAttempts = 5
	codeGroupLen       = 4
)

// CodeChecker is the slice of the store the generator needs.
type CodeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// CodeGenerator produces unique redemption codes. Safe for concurrent use
// without coordination; state is the store it checks against.
type CodeGenerator struct {
	Checker     CodeChecker
	Prefix      string // Defaults to "SC"
	MaxAttempts int    // Collision retries before ErrCodeGenerationExhausted; defaults to 5
}

func NewCodeGenerator(checker CodeChecker) *CodeGenerator {
	return &CodeGenerator{
		Checker:     checker,
		Prefix:      defaultCodePrefix,
		MaxAttempts: defaultMaxAttempts,
	}
}

// GenerateCode returns a code unique against the store at return time.
// Returns ErrCodeGenerationExhausted after MaxAttempts collisions.
func (g *CodeGenerator) GenerateCode(ctx context.Context) (string, error) {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	for i := 0; i < attempts; i++ {
		code, err := g.newCandidate()
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}

		exists, err := g.Checker.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check code uniqueness: %w", err)
		}
		if !exists {
			return code, nil
		}
	}

	return "", fmt.Errorf("%w after %d attempts", ErrCodeGenerationExhausted, attempts)
}

func (g *CodeGenerator) newCandidate() (string, error) {
	prefix := g.Prefix
	if prefix == "" {
		prefix = defaultCodePrefix
	}

	r1, err := randomGroup(codeGroupLen)
	if err != nil {
		return "", err
	}
	r2, err := randomGroup(codeGroupLen)
	if err != nil {
		return "", err
	}

	return strings.Join([]string{prefix, r1, r2, timeGroup(time.Now())}, "-"), nil
}

func randomGroup(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

// timeGroup encodes the current unix second into codeGroupLen alphabet
// characters. Codes generated in different seconds differ here even when
// the random groups collide.
func timeGroup(now time.Time) string {
	v := now.Unix()
	out := make([]byte, codeGroupLen)
	for i := codeGroupLen - 1; i >= 0; i-- {
		out[i] = codeAlphabet[int(v%int64(len(codeAlphabet)))]
		v /= int64(len(codeAlphabet))
	}
	return string(out)
}
