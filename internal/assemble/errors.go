package assemble

import (
	"errors"
	"fmt"

	"github.com/mtcforge/mtcagent/internal/asset"
	"github.com/mtcforge/mtcagent/internal/schema"
	"github.com/mtcforge/mtcagent/internal/store"
)

// ErrorCode is an MTConnect error code, emitted as the errorCode
// attribute of an Error element.
type ErrorCode string

const (
	CodeNoDevice       ErrorCode = "NO_DEVICE"
	CodeAssetNotFound  ErrorCode = "ASSET_NOT_FOUND"
	CodeOutOfRange     ErrorCode = "OUT_OF_RANGE"
	CodeInvalidXPath   ErrorCode = "INVALID_XPATH"
	CodeUnsupported    ErrorCode = "UNSUPPORTED"
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"
)

// AgentError carries an MTConnect error code plus human text. Query
// handling accumulates these; ingest never produces them.
type AgentError struct {
	Code    ErrorCode
	Message string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds an AgentError.
func Errorf(code ErrorCode, format string, args ...any) *AgentError {
	return &AgentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ClassifyError maps store, schema, and asset errors onto the MTConnect
// taxonomy. Unknown errors become INVALID_REQUEST.
func ClassifyError(err error) *AgentError {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr
	}
	switch {
	case errors.Is(err, store.ErrFromTooLow),
		errors.Is(err, store.ErrFromTooHigh),
		errors.Is(err, store.ErrCountTooLow),
		errors.Is(err, store.ErrCountTooHigh),
		errors.Is(err, store.ErrAtOutOfRange),
		errors.Is(err, store.ErrReplayCapped):
		return &AgentError{Code: CodeOutOfRange, Message: err.Error()}
	case errors.Is(err, schema.ErrInvalidPath):
		return &AgentError{Code: CodeInvalidXPath, Message: err.Error()}
	case errors.Is(err, schema.ErrUnsupportedPath):
		return &AgentError{Code: CodeUnsupported, Message: err.Error()}
	case errors.Is(err, asset.ErrUnknownAsset):
		return &AgentError{Code: CodeAssetNotFound, Message: err.Error()}
	}
	return &AgentError{Code: CodeInvalidRequest, Message: err.Error()}
}
