package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/observability"
)

const (
	codeAttempts = 10
	codeSpace    = 1_000_000_000
)

// CodeChecker reports whether a visit code is already taken.
type CodeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// CodeGenerator draws 9-digit visit codes. Uniqueness is checked against
// the store; the UNIQUE index on visits.code is the final guard.
type CodeGenerator struct {
	checker CodeChecker
	logger  *slog.Logger
	rand    io.Reader
}

func NewCodeGenerator(checker CodeChecker, logger *slog.Logger) *CodeGenerator {
	if logger == nil {
		logger = observability.Discard()
	}
	return &CodeGenerator{checker: checker, logger: logger, rand: rand.Reader}
}

// Generate returns an unused code when one is found within ten draws.
// After ten collisions it returns the last candidate and lets the insert
// decide.
func (g *CodeGenerator) Generate(ctx context.Context) (string, error) {
	var code string
	for attempt := 1; attempt <= codeAttempts; attempt++ {
		n, err := g.draw()
		if err != nil {
			return "", fmt.Errorf("visit code: %w", err)
		}
		code = fmt.Sprintf("%09d", n)

		taken, err := g.checker.CodeExists(ctx, code)
		if err != nil {
			return "", persistence("check visit code", err)
		}
		if !taken {
			return code, nil
		}
		observability.VisitCodeCollisionsTotal.Inc()
	}
	g.logger.Warn("visit code space saturated; returning unchecked candidate",
		slog.Int("attempts", codeAttempts), slog.String("code", code))
	return code, nil
}

// draw returns a uniform value in [0, 1e9): 30 random bits, rejecting the
// values past the code space.
func (g *CodeGenerator) draw() (uint32, error) {
	var b [4]byte
	for {
		if _, err := io.ReadFull(g.rand, b[:]); err != nil {
			return 0, err
		}
		if n := binary.BigEndian.Uint32(b[:]) & (1<<30 - 1); n < codeSpace {
			return n, nil
		}
	}
}
