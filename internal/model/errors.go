package model

import (
	"errors"
	"fmt"
)

// ValidationError 整个导入在任何写操作之前被拒绝（压缩包不可读、为空、结构与作业类型不符）
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// NewValidationError 创建校验错误
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// SecurityError 单个压缩包条目不安全（路径穿越、NUL 字节、符号链接），只丢弃该条目
type SecurityError struct {
	Entry  string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("unsafe archive entry %q: %s", e.Entry, e.Reason)
}

// ProcessingError 局限于单个参与者/文件/行的失败，流水线继续
type ProcessingError struct {
	Scope string // 例如 "row 3"、"Team_7/report.pdf"
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Scope, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsSecurity 判断是否为安全错误
func IsSecurity(err error) bool {
	var s *SecurityError
	return errors.As(err, &s)
}
