package fault

import (
	"errors"
	"fmt"
)

// Kind is the class of an on-chain failure. Every kind aborts the triggering
// transaction; the kinds differ in how off-chain callers react to them.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindReplay
	KindValidation
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindReplay:
		return "replay"
	case KindValidation:
		return "validation"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error carries a kind and a machine readable reason code.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

var (
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrReplay         = &Error{Kind: KindReplay}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrDecode         = &Error{Kind: KindDecode}
)

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func Authentication(code, msg string) *Error { return New(KindAuthentication, code, msg) }
func Replay(code, msg string) *Error         { return New(KindReplay, code, msg) }
func Validation(code, msg string) *Error     { return New(KindValidation, code, msg) }
func Decode(code, msg string) *Error         { return New(KindDecode, code, msg) }

func (e *Error) Error() string {
	switch {
	case e.Code == "":
		return fmt.Sprintf("%s error", e.Kind)
	case e.Msg == "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Code)
	default:
		return fmt.Sprintf("%s error: %s: %s", e.Kind, e.Code, e.Msg)
	}
}

// Is matches on kind when the target has no code, and on kind+code otherwise,
// so errors.Is(err, fault.ErrReplay) holds for every replay error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

// Wrapf returns a copy of e with formatted details, keeping kind and code.
func (e *Error) Wrapf(format string, args ...interface{}) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Msg: fmt.Sprintf(format, args...)}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsPermanent reports whether retrying the same call can never succeed.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindAuthentication, KindDecode:
		return true
	default:
		return false
	}
}
