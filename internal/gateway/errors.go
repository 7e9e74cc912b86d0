package gateway

import (
	"errors"
	"fmt"
)

// Kind 网关错误分类
type Kind string

const (
	KindTransport    Kind = "transport"    // 网络错误、超时、非 2xx 响应
	KindUnauthorized Kind = "unauthorized" // 凭证缺失或被拒绝
	KindGraphQL      Kind = "graphql"      // 服务端返回 errors
	KindValidation   Kind = "validation"   // 提交前校验失败
)

var (
	ErrTransport    = errors.New("gateway: transport failure")
	ErrUnauthorized = errors.New("gateway: unauthorized")
	ErrGraphQL      = errors.New("gateway: graphql error")
	ErrValidation   = errors.New("gateway: validation failed")
)

// Error 网关调用失败，调用方通过 errors.Is 判断分类
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 支持 errors.Is(err, ErrUnauthorized) 等分类判断
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrGraphQL:
		return e.Kind == KindGraphQL
	case ErrValidation:
		return e.Kind == KindValidation
	}
	return false
}

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
