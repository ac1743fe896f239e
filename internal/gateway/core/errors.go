package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway error. The HTTP layer maps kinds to status codes
// and reports them to callers as errorKind.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindOffline    Kind = "offline"
	KindBusy       Kind = "busy"
	KindTimeout    Kind = "timeout"
	KindTransport  Kind = "transport"
	KindEncode     Kind = "encode"
	KindInternal   Kind = "internal"
)

// Sentinel errors, one per kind. errors.Is(err, ErrDeviceBusy) holds for any
// *Error of the matching kind.
var (
	ErrValidation     = errors.New("invalid request")
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceOffline  = errors.New("device offline")
	ErrDeviceBusy     = errors.New("device busy")
	ErrTimeout        = errors.New("timed out waiting for device")
	ErrTransport      = errors.New("transport failure")
	ErrEncode         = errors.New("audio encoding failed")
	ErrInternal       = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindValidation: ErrValidation,
	KindNotFound:   ErrDeviceNotFound,
	KindOffline:    ErrDeviceOffline,
	KindBusy:       ErrDeviceBusy,
	KindTimeout:    ErrTimeout,
	KindTransport:  ErrTransport,
	KindEncode:     ErrEncode,
	KindInternal:   ErrInternal,
}

// Error is the error type returned by gateway components.
type Error struct {
	Kind     Kind
	Op       string
	DeviceID string
	Err      error
}

// E builds an *Error. err may be nil, in which case the kind's sentinel is used.
func E(kind Kind, op, deviceID string, err error) *Error {
	if err == nil {
		err = sentinels[kind]
	}
	return &Error{Kind: kind, Op: op, DeviceID: deviceID, Err: err}
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, op, deviceID, format string, args ...any) *Error {
	return E(kind, op, deviceID, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	msg := e.Op
	if e.DeviceID != "" {
		msg += " " + e.DeviceID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of err. Errors that did not originate from the
// gateway are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code returned to REST callers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindBusy:
		return http.StatusConflict
	case KindEncode:
		return http.StatusUnprocessableEntity
	case KindTransport:
		return http.StatusBadGateway
	case KindOffline:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsTransient reports whether retrying the same request later may succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindBusy, KindTimeout, KindTransport, KindOffline:
		return true
	}
	return false
}
