package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

type ErrorType int

const (
	ErrInvalidPath ErrorType = iota
	ErrInvalidFolderName
	ErrIO
	ErrConnection
	ErrUnexpectedMessage
	ErrUnresolvedEntry
	ErrProtocol
	ErrNotConnected
)

func (t ErrorType) String() string {
	switch t {
	case ErrInvalidPath:
		return "invalid_path"
	case ErrInvalidFolderName:
		return "invalid_folder_name"
	case ErrIO:
		return "io"
	case ErrConnection:
		return "connection"
	case ErrUnexpectedMessage:
		return "unexpected_message"
	case ErrUnresolvedEntry:
		return "unresolved_entry"
	case ErrProtocol:
		return "protocol"
	case ErrNotConnected:
		return "not_connected"
	default:
		return fmt.Sprintf("error_type(%d)", int(t))
	}
}

// AppError carries a failure category plus the component that raised it.
type AppError struct {
	Type    ErrorType
	Message string
	Time    time.Time
	Source  string
	Err     error
}

func (c *AppError) Error() string {
	if c.Err != nil {
		return fmt.Sprintf("%s: %v", c.Message, c.Err)
	}
	return c.Message
}

func (c *AppError) Unwrap() error {
	return c.Err
}

func New(errtype ErrorType, source string, msg string, uerror error) *AppError {
	return &AppError{
		Type:    errtype,
		Message: msg,
		Time:    time.Now(),
		Source:  source,
		Err:     uerror,
	}
}

// IsType reports whether any AppError in err's chain has the given type.
func IsType(err error, errtype ErrorType) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Type == errtype {
			return true
		}
		err = appErr.Err
	}
	return false
}
