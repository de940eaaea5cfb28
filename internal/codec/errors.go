package codec

import (
	"errors"
	"fmt"

	"ms-admission/internal/models"
)

// Configuration errors, raised when the codec is constructed.
var (
	ErrKeyMissing  = errors.New("codec: CODE_ENCRYPTION_KEY is not set")
	ErrKeyTooShort = fmt.Errorf("codec: encryption key must be at least %d bytes", MinKeyLength)
)

// Error is the typed failure every decode/validate path returns.
type Error struct {
	Code models.ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(code models.ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf maps any error to an ErrorCode. Errors that did not come from
// the codec are infrastructure failures.
func CodeOf(err error) models.ErrorCode {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return models.CodeInternalError
}
