package objstore

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/andreyvit/objstore/keycodec"
)

func TestStoreError(t *testing.T) {
	inner := errors.New("inner")
	err := storeErrf(ErrConstraint, "users", "by_email", keycodec.MustEncode("a@example.com"), inner, "duplicate %s", "email")
	deepEqual(t, err.Error(), `ConstraintError: users.by_email/"a@example.com": duplicate email: inner`)
	isKind(t, err, ErrConstraint)
	isKind(t, err, inner)
	if errors.Is(err, ErrData) {
		t.Errorf("** %v matches ErrData", err)
	}

	var se *StoreError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &se) {
		t.Fatalf("** errors.As failed")
	}
	deepEqual(t, se.Store, "users")
	deepEqual(t, se.Index, "by_email")

	deepEqual(t, storeErrf(ErrNotFound, "", "", Key{}, nil, "no such store").Error(), "NotFoundError: no such store")
	deepEqual(t, (&StoreError{Kind: ErrReadOnly, Store: "s"}).Error(), "ReadOnlyError: s")
}

func TestErrorName(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrData, "DataError"},
		{ErrConstraint, "ConstraintError"},
		{ErrReadOnly, "ReadOnlyError"},
		{ErrTransactionInactive, "TransactionInactiveError"},
		{ErrNotAllowed, "NotAllowedError"},
		{ErrNotFound, "NotFoundError"},
		{ErrAbort, "AbortError"},
		{ErrUnknown, "UnknownError"},
		{errors.New("other"), "UnknownError"},
		{dataErr("s", nil, "bad"), "DataError"},
		{fmt.Errorf("ctx: %w", ErrAbort), "AbortError"},
	}
	for _, tt := range tests {
		if got := ErrorName(tt.err); got != tt.want {
			t.Errorf("** ErrorName(%v) = %q, wanted %q", tt.err, got, tt.want)
		}
	}
}

func TestAsUnknown(t *testing.T) {
	deepEqual(t, asUnknown("s", nil), nil)

	cde := corruptf([]byte{0xAA}, 0, nil, "broken")
	err := asUnknown("s", cde)
	isKind(t, err, ErrUnknown)
	var got *CorruptDataError
	if !errors.As(err, &got) {
		t.Errorf("** asUnknown lost the cause: %v", err)
	}

	// errors that already have a kind are kept
	de := dataErr("s", nil, "bad")
	deepEqual(t, asUnknown("s", de), de)

	_, kerr := keycodec.Encode(true)
	isKind(t, invalidKeyErr("s", kerr), ErrData)
	isKind(t, invalidKeyErr("s", kerr), keycodec.ErrInvalid)
	other := errors.New("other")
	deepEqual(t, invalidKeyErr("s", other), other)
}

func TestCorruptDataError(t *testing.T) {
	inner := errors.New("inner")
	err := corruptf([]byte{0xAA, 0xBB}, 1, inner, "oops")
	if !errors.Is(err, inner) {
		t.Errorf("** errors.Is(err, inner) = false, wanted true")
	}
	s := err.Error()
	if !strings.Contains(s, "oops") || !strings.Contains(s, "inner") || !strings.Contains(s, "(2) aabb") {
		t.Errorf("** got %q, wanted a message with oops, inner and (2) aabb", s)
	}

	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i)
	}
	s = corruptf(data, 0, nil, "oops").Error()
	if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
		t.Errorf("** got %q, wanted a message with (200) and ...", s)
	}
}
