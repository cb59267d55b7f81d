package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	CodeInternal   Code = "INTERNAL_ERROR"
	CodeDependency Code = "DEPENDENCY_ERROR"

	// Ingestion pipeline taxonomy.
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeUnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	CodeTransform         Code = "TRANSFORM_FAILED"
	CodeDuplicateRace     Code = "DUPLICATE_RACE"
	CodeNoImages          Code = "NO_IMAGES"
	CodeStorageIO         Code = "STORAGE_IO"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeNotFound: {
		HTTPStatus:    http.StatusNotFound,
		PublicMessage: "resource not found",
	},
	CodeConflict: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "conflict detected",
	},
	CodeInternal: {
		HTTPStatus:    http.StatusInternalServerError,
		Retryable:     true,
		PublicMessage: "internal server error",
	},
	CodeDependency: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "dependency unavailable",
		DetailsAllowed: true,
	},
	CodeInvalidInput: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "upload is not a readable image",
		DetailsAllowed: true,
	},
	CodeUnsupportedFormat: {
		HTTPStatus:     http.StatusUnsupportedMediaType,
		PublicMessage:  "image format not supported",
		DetailsAllowed: true,
	},
	CodeTransform: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "image could not be resized",
		DetailsAllowed: true,
	},
	CodeDuplicateRace: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      true,
		PublicMessage:  "concurrent upload conflict",
		DetailsAllowed: true,
	},
	CodeNoImages: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "product has no images",
		DetailsAllowed: true,
	},
	CodeStorageIO: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "image storage unavailable",
		DetailsAllowed: true,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

// Error keeps the cause text so logs and CLI output show the failing layer.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// Is reports whether the outermost coded error in err's chain carries code.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// IsRetryable reports whether err is worth redelivering. Uncoded errors are
// treated as internal; transient database failures always retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsTransientDB(err) {
		return true
	}
	typed := As(err)
	if typed == nil {
		return MetadataFor(CodeInternal).Retryable
	}
	return MetadataFor(typed.code).Retryable
}
