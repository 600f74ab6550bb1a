// Package shortcode 生成与校验短码
// 唯一性由记录库的唯一约束保证，生成器只做只读的存在性检查，所以碰撞重试是必需的
package shortcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	// Length 随机短码长度
	Length = 6
	// MaxAttempts 随机生成的最大尝试次数
	MaxAttempts = 10

	charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	ErrDuplicateCode       = errors.New("短码已被占用")
	ErrInvalidFormat       = errors.New("短码格式无效，只允许 3-20 位字母、数字或连字符")
	ErrGenerationExhausted = errors.New("短码生成失败，重试次数已用完")
	ErrReservedCode        = errors.New("短码与系统路径冲突")
)

var customCodePattern = regexp.MustCompile(`^[A-Za-z0-9-]{3,20}$`)

// reservedCodes 与服务端固定路由同名的路径段，按小写比较
var reservedCodes = map[string]struct{}{
	"healthz": {},
	"readyz":  {},
	"metrics": {},
	"api":     {},
}

// Reserved 短码是否与固定路由冲突
func Reserved(code string) bool {
	_, ok := reservedCodes[strings.ToLower(code)]
	return ok
}

// Checker 短码存在性检查
type Checker interface {
	ShortCodeExists(ctx context.Context, code string) (bool, error)
}

// Generator 短码生成器
type Generator struct {
	checker Checker
	random  func(length int) (string, error)
}

// NewGenerator 创建生成器
func NewGenerator(checker Checker) *Generator {
	return &Generator{checker: checker, random: randomCode}
}

// ValidFormat 自定义短码是否符合格式
func ValidFormat(code string) bool {
	return customCodePattern.MatchString(code)
}

// Generate 返回可用的短码
// customCode 非空时原样校验并返回；为空时随机生成
func (g *Generator) Generate(ctx context.Context, customCode string) (string, error) {
	if customCode != "" {
		if !ValidFormat(customCode) {
			return "", ErrInvalidFormat
		}
		if Reserved(customCode) {
			return "", ErrReservedCode
		}
		exists, err := g.checker.ShortCodeExists(ctx, customCode)
		if err != nil {
			return "", fmt.Errorf("检查短码失败: %w", err)
		}
		if exists {
			return "", ErrDuplicateCode
		}
		return customCode, nil
	}

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		code, err := g.random(Length)
		if err != nil {
			return "", fmt.Errorf("生成随机短码失败: %w", err)
		}
		if Reserved(code) {
			continue
		}
		exists, err := g.checker.ShortCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("检查短码失败: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrGenerationExhausted
}

// randomCode 使用 crypto/rand 均匀抽取字符
func randomCode(length int) (string, error) {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}
	return string(b), nil
}
