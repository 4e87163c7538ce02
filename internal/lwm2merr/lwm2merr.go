// Package lwm2merr implements the §7 error taxonomy, shared by the CoAP
// response path and the IPC <Error> field.
//
// Grounded on coap.go's CoapCode constants, extended with the full set
// from spec.md §7 per original_source/api/src/error.h's AwaError names.
package lwm2merr

import "fmt"

// Code is the closed result-code set from §7.
type Code int

const (
	Success Code = iota
	SuccessCreated
	SuccessChanged
	SuccessDeleted
	SuccessContent
	BadRequest
	Unauthorized
	NotFound
	MethodNotAllowed
	Forbidden
	PayloadTooLarge
	UnsupportedContentFormat
	InternalError
)

func (c Code) String() string {
	switch c {
	case Success:
		return "Success"
	case SuccessCreated:
		return "SuccessCreated"
	case SuccessChanged:
		return "SuccessChanged"
	case SuccessDeleted:
		return "SuccessDeleted"
	case SuccessContent:
		return "SuccessContent"
	case BadRequest:
		return "BadRequest"
	case Unauthorized:
		return "Unauthorized"
	case NotFound:
		return "NotFound"
	case MethodNotAllowed:
		return "MethodNotAllowed"
	case Forbidden:
		return "Forbidden"
	case PayloadTooLarge:
		return "PayloadTooLarge"
	case UnsupportedContentFormat:
		return "UnsupportedContentFormat"
	case InternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// IsSuccess reports whether c is one of the Success* codes.
func (c Code) IsSuccess() bool { return c <= SuccessContent }

// CoapCode is the RFC 7252 response code c maps onto.
func (c Code) CoapCode() byte {
	switch c {
	case Success:
		return 0
	case SuccessCreated:
		return 0x41 // 2.01
	case SuccessChanged:
		return 0x44 // 2.04
	case SuccessDeleted:
		return 0x42 // 2.02
	case SuccessContent:
		return 0x45 // 2.05
	case BadRequest:
		return 0x80 // 4.00
	case Unauthorized:
		return 0x81 // 4.01
	case NotFound:
		return 0x84 // 4.04
	case MethodNotAllowed:
		return 0x85 // 4.05
	case Forbidden:
		return 0x83 // 4.03
	case PayloadTooLarge:
		return 0x8D // 4.13
	case UnsupportedContentFormat:
		return 0x8F // 4.15
	case InternalError:
		return 0xA0 // 5.00
	default:
		return 0xA0
	}
}

// FromCoapCode is CoapCode's inverse, used by internal/transport/
// coapclient to interpret a remote device's CoAP response code back
// into the shared §7 taxonomy.
func FromCoapCode(c byte) Code {
	switch c {
	case 0:
		return Success
	case 0x41:
		return SuccessCreated
	case 0x44:
		return SuccessChanged
	case 0x42:
		return SuccessDeleted
	case 0x45:
		return SuccessContent
	case 0x81:
		return Unauthorized
	case 0x84:
		return NotFound
	case 0x85:
		return MethodNotAllowed
	case 0x83:
		return Forbidden
	case 0x8D:
		return PayloadTooLarge
	case 0x8F:
		return UnsupportedContentFormat
	case 0x80:
		return BadRequest
	default:
		return InternalError
	}
}

// Error wraps a Code with a message, satisfying the error interface so
// callers can return it directly from store/router operations.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func New(code Code, msg string) *Error { return &Error{Code: code, Msg: msg} }
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code carried by err, defaulting to InternalError
// for errors that did not originate from this package — an invariant
// violation the handler must treat conservatively per §7.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return InternalError
}
