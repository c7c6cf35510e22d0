// Package apperr описывает типизированные ошибки домена чата и их отображение в HTTP-статусы.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindForbidden      Kind = "forbidden"
	KindAuthentication Kind = "authentication"
	KindConflict       Kind = "conflict"
	KindTransient      Kind = "transient"
)

// Error: ошибка с видом (Kind) и сообщением, которое можно показать клиенту.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func Authentication(err error, msg string) *Error {
	return &Error{Kind: KindAuthentication, Message: msg, Err: err}
}

func Conflict(err error, msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg, Err: err}
}

// Transient оборачивает сбой инфраструктуры (БД, сеть). Клиенту уходит msg, причина остаётся в Err для логов.
func Transient(err error, msg string) *Error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

// KindOf возвращает вид ошибки; для нетипизированных ошибок: KindTransient.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransient
}

func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

func HTTPStatus(err error) int {
	var ae *Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
