package gateway

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// CredentialProvider 提供访问令牌，每次调用都会重新获取（令牌可能轮换）
// 返回空字符串表示当前没有可用令牌
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// CredentialFunc 函数形式的 CredentialProvider
type CredentialFunc func(ctx context.Context) (string, error)

// Token 实现 CredentialProvider
func (f CredentialFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticCredentials 固定令牌
type StaticCredentials struct {
	token string
}

// NewStaticCredentials 创建固定令牌
func NewStaticCredentials(token string) *StaticCredentials {
	return &StaticCredentials{token: strings.TrimSpace(token)}
}

// Token 实现 CredentialProvider
func (c *StaticCredentials) Token(ctx context.Context) (string, error) {
	return c.token, nil
}

// FileCredentials 从文件读取令牌，每次调用重新读取，便于外部进程刷新
type FileCredentials struct {
	path string
}

// NewFileCredentials 创建文件令牌
func NewFileCredentials(path string) *FileCredentials {
	return &FileCredentials{path: path}
}

// Token 实现 CredentialProvider
func (c *FileCredentials) Token(ctx context.Context) (string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
