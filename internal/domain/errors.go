package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок. Конкретные ошибки оборачивают один из видов.
var (
	ErrValidation        = errors.New("validation_error")
	ErrAuthorization     = errors.New("authorization_error")
	ErrCapacity          = errors.New("capacity_error")
	ErrConfiguration     = errors.New("configuration_error")
	ErrExecution         = errors.New("execution_error")
	ErrUnauthorizedAdmin = errors.New("unauthorized_admin_error")
	ErrSystemHalt        = errors.New("system_halt_error")
)

var kinds = []error{
	ErrValidation,
	ErrAuthorization,
	ErrCapacity,
	ErrConfiguration,
	ErrExecution,
	ErrUnauthorizedAdmin,
	ErrSystemHalt,
}

// Error ошибка с видом из таксономии
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// Errorf создает ошибку вида kind
func Errorf(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf возвращает имя вида; неклассифицированные ошибки считаются ошибками исполнения
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return ErrExecution.Error()
}
