package shortcode

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memChecker 模拟记录库：generate 之后调用方负责持久化，这里用 add 代替
type memChecker struct {
	mu    sync.Mutex
	codes map[string]bool
	err   error
	calls int
}

func newMemChecker(codes ...string) *memChecker {
	c := &memChecker{codes: map[string]bool{}}
	for _, code := range codes {
		c.codes[code] = true
	}
	return c
}

func (c *memChecker) ShortCodeExists(_ context.Context, code string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.codes[code], nil
}

func (c *memChecker) add(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[code] = true
}

func TestGenerate_CustomCode(t *testing.T) {
	ctx := context.Background()
	g := NewGenerator(newMemChecker("taken"))

	for _, code := range []string{"abc", "my-menu-2026", "A1-b2-C3", "x1234567890123456789"} {
		got, err := g.Generate(ctx, code)
		require.NoError(t, err, code)
		assert.Equal(t, code, got, "valid unused custom codes are returned verbatim")
	}

	_, err := g.Generate(ctx, "taken")
	assert.ErrorIs(t, err, ErrDuplicateCode)

	for _, code := range []string{"ab", "x12345678901234567890", "has space", "emoji😀", "under_score", "dot.code"} {
		_, err := g.Generate(ctx, code)
		assert.ErrorIs(t, err, ErrInvalidFormat, code)
	}
}

func TestGenerate_RejectsRouteNames(t *testing.T) {
	ctx := context.Background()
	g := NewGenerator(newMemChecker())

	for _, code := range []string{"healthz", "readyz", "metrics", "api", "Metrics", "READYZ"} {
		_, err := g.Generate(ctx, code)
		assert.ErrorIs(t, err, ErrReservedCode, code)
	}

	// 随机生成命中系统路径时跳过，不查库
	checker := newMemChecker()
	g = NewGenerator(checker)
	seq := []string{"readyz", "Readyz", "q1w2e3"}
	g.random = func(int) (string, error) {
		code := seq[0]
		seq = seq[1:]
		return code, nil
	}
	code, err := g.Generate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "q1w2e3", code)
	assert.Equal(t, 1, checker.calls)
}

func TestGenerate_RandomCodesAreDistinct(t *testing.T) {
	ctx := context.Background()
	checker := newMemChecker()
	g := NewGenerator(checker)
	valid := regexp.MustCompile(`^[A-Za-z0-9]{6}$`)

	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		code, err := g.Generate(ctx, "")
		require.NoError(t, err)
		assert.Regexp(t, valid, code)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
		checker.add(code)
	}
}

func TestGenerate_RetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	checker := newMemChecker("AAAAAA", "BBBBBB")
	g := NewGenerator(checker)
	seq := []string{"AAAAAA", "BBBBBB", "CCCCCC"}
	g.random = func(int) (string, error) {
		code := seq[0]
		seq = seq[1:]
		return code, nil
	}

	code, err := g.Generate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "CCCCCC", code)
	assert.Equal(t, 3, checker.calls)
}

func TestGenerate_Exhausted(t *testing.T) {
	checker := newMemChecker("AAAAAA")
	g := NewGenerator(checker)
	g.random = func(int) (string, error) { return "AAAAAA", nil }

	_, err := g.Generate(context.Background(), "")
	assert.ErrorIs(t, err, ErrGenerationExhausted)
	assert.Equal(t, MaxAttempts, checker.calls)
}

func TestGenerate_StoreErrorPropagates(t *testing.T) {
	checker := newMemChecker()
	checker.err = errors.New("db down")
	g := NewGenerator(checker)

	_, err := g.Generate(context.Background(), "")
	assert.ErrorIs(t, err, checker.err)
	_, err = g.Generate(context.Background(), "custom")
	assert.ErrorIs(t, err, checker.err)
}
