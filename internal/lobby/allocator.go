package lobby

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/mossy-p/card-lobby/internal/store"
)

const (
	roomCodeLength = 6
	codeChars      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	DefaultCodeAttempts = 20
)

// CodeGenerator produces one candidate room code.
type CodeGenerator func() (string, error)

// RandomCode draws roomCodeLength symbols from codeChars using crypto/rand.
func RandomCode() (string, error) {
	code := make([]byte, roomCodeLength)
	symbols := big.NewInt(int64(len(codeChars)))
	for i := range code {
		n, err := rand.Int(rand.Reader, symbols)
		if err != nil {
			return "", err
		}
		code[i] = codeChars[n.Int64()]
	}
	return string(code), nil
}

// Allocator hands out unused room codes. The store's unique constraint is the
// real guard; the lookup only avoids obviously wasted create attempts.
type Allocator struct {
	rooms       store.Repository
	generate    CodeGenerator
	maxAttempts int
}

func NewAllocator(rooms store.Repository, generate CodeGenerator, maxAttempts int) *Allocator {
	if generate == nil {
		generate = RandomCode
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultCodeAttempts
	}
	return &Allocator{rooms: rooms, generate: generate, maxAttempts: maxAttempts}
}

// Reserve finds an unused code and hands it to claim, which must create the
// room and return store.ErrConflict if the code was taken in the meantime.
func (a *Allocator) Reserve(ctx context.Context, claim func(ctx context.Context, code string) error) (string, error) {
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code, err := a.generate()
		if err != nil {
			return "", fmt.Errorf("failed to generate room code: %w", err)
		}

		_, err = a.rooms.Get(ctx, code)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}

		err = claim(ctx, code)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return "", err
		}
		return code, nil
	}
	return "", fmt.Errorf("%w: no free room code after %d attempts", ErrResourceExhausted, a.maxAttempts)
}
