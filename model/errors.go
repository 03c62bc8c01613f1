package model

import (
	"errors"
	"fmt"

	"virtius.io/virtius/errs"
	"virtius.io/virtius/pipeline"
	"virtius.io/virtius/registry"
	"virtius.io/virtius/service"
	"virtius.io/virtius/storage"
)

type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrDecode            ErrorCode = "DECODE_FAILED"
	ErrCryptoUnavailable ErrorCode = "CRYPTO_UNAVAILABLE"
	ErrInvalidKey        ErrorCode = "INVALID_KEY"
	ErrDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrInvalidCID        ErrorCode = "INVALID_CID"
	ErrCIDMismatch       ErrorCode = "CID_MISMATCH"
	ErrStorage           ErrorCode = "STORAGE"
	ErrInternal          ErrorCode = "INTERNAL"
)

// CodedError is a stable error with a machine-readable code and a human message.
type CodedError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	// Stage is the pipeline stage that failed, when there was one.
	Stage string `json:"stage,omitempty"`
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

var kindCodes = map[errs.Kind]ErrorCode{
	errs.KindDecode:            ErrDecode,
	errs.KindCryptoUnavailable: ErrCryptoUnavailable,
	errs.KindInvalidKey:        ErrInvalidKey,
	errs.KindDimensionMismatch: ErrDimensionMismatch,
	errs.KindStorage:           ErrStorage,
	errs.KindInternal:          ErrInternal,
}

// FromError classifies err for a boundary caller. Sentinels are checked
// before error kinds so a missing blob reads NOT_FOUND rather than STORAGE.
// A nil err yields nil.
func FromError(err error) *CodedError {
	if err == nil {
		return nil
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce
	}

	out := &CodedError{Code: ErrInternal, Message: err.Error()}
	if st, ok := pipeline.StageOf(err); ok {
		out.Stage = string(st)
	}
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		out.Code = ErrInvalidRequest
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		out.Code = ErrNotFound
	case errors.Is(err, storage.ErrInvalidCID), errors.Is(err, storage.ErrInvalidLocator):
		out.Code = ErrInvalidCID
	case errors.Is(err, storage.ErrCIDMismatch):
		out.Code = ErrCIDMismatch
	default:
		if code, ok := kindCodes[errs.KindOf(err)]; ok {
			out.Code = code
		}
	}
	return out
}
