package services

import (
	"errors"
	"fmt"

	"github.com/GrainArc/GeoVersion/models"
)

// 错误类别，使用 errors.Is 判断
var (
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
	ErrForbidden  = errors.New("forbidden")
)

// ServiceError 带类别的业务错误
type ServiceError struct {
	Kind    error
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Is(target error) bool {
	return target == e.Kind
}

func notFound(format string, args ...interface{}) error {
	return &ServiceError{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func badRequest(format string, args ...interface{}) error {
	return &ServiceError{Kind: ErrBadRequest, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...interface{}) error {
	return &ServiceError{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

// ConflictError 提交审核时检测到冲突，状态已落库为 conflict
type ConflictError struct {
	MergeRequestID string
	Conflicts      []models.Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge request %s has %d unresolved conflict(s)", e.MergeRequestID, len(e.Conflicts))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrBadRequest
}
