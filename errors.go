package objstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andreyvit/objstore/keycodec"
)

var (
	ErrData                = errors.New("data error")
	ErrConstraint          = errors.New("constraint violation")
	ErrReadOnly            = errors.New("transaction is read-only")
	ErrTransactionInactive = errors.New("transaction is not active")
	ErrNotAllowed          = errors.New("operation not allowed")
	ErrNotFound            = errors.New("not found")
	ErrUnknown             = errors.New("unknown error")
	ErrAbort               = errors.New("transaction aborted")
)

var errorNames = []struct {
	err  error
	name string
}{
	{ErrData, "DataError"},
	{ErrConstraint, "ConstraintError"},
	{ErrReadOnly, "ReadOnlyError"},
	{ErrTransactionInactive, "TransactionInactiveError"},
	{ErrNotAllowed, "NotAllowedError"},
	{ErrNotFound, "NotFoundError"},
	{ErrAbort, "AbortError"},
	{ErrUnknown, "UnknownError"},
}

// ErrorName returns the conventional name of the error's kind, like
// "ConstraintError", or "UnknownError" for errors of any other kind.
// It returns an empty string for a nil error.
func ErrorName(err error) string {
	if err == nil {
		return ""
	}
	for _, en := range errorNames {
		if errors.Is(err, en.err) {
			return en.name
		}
	}
	return "UnknownError"
}

// StoreError is returned by object store, index and cursor operations.
// It matches its Kind via errors.Is.
type StoreError struct {
	Kind  error
	Store string
	Index string
	Key   Key
	Msg   string
	Err   error
}

func storeErrf(kind error, store, index string, key Key, err error, format string, args ...any) error {
	return &StoreError{kind, store, index, key, fmt.Sprintf(format, args...), err}
}

func (e *StoreError) Is(target error) bool {
	return target == e.Kind
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Error() string {
	var buf strings.Builder
	buf.WriteString(ErrorName(e.Kind))
	if e.Store != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Store)
		if e.Index != "" {
			buf.WriteByte('.')
			buf.WriteString(e.Index)
		}
		if !e.Key.IsUnset() {
			buf.WriteByte('/')
			buf.WriteString(e.Key.String())
		}
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

func dataErr(store string, err error, format string, args ...any) error {
	return storeErrf(ErrData, store, "", Key{}, err, format, args...)
}

func invalidKeyErr(store string, err error) error {
	if errors.Is(err, keycodec.ErrInvalid) {
		return storeErrf(ErrData, store, "", Key{}, err, "")
	}
	return err
}

// CorruptDataError reports undecodable bytes read from the backing store.
// Operations wrap it into an UnknownError.
type CorruptDataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func corruptf(data []byte, off int, err error, format string, args ...any) error {
	return &CorruptDataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *CorruptDataError) Unwrap() error {
	return e.Err
}

func (e *CorruptDataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// asUnknown wraps backing store and corruption errors that don't already
// carry a kind.
func asUnknown(store string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return storeErrf(ErrUnknown, store, "", Key{}, err, "")
}
