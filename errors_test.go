package x402

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeErrorWrapping(t *testing.T) {
	err := &DecodeError{Field: "amount", Err: ErrMalformedValue}

	if !errors.Is(err, ErrMalformedValue) {
		t.Error("DecodeError does not match its sentinel")
	}
	if !strings.Contains(err.Error(), "amount") {
		t.Errorf("Error() = %q; want the field name included", err.Error())
	}
}

func TestConditionsNotMetErrorWrapping(t *testing.T) {
	err := &ConditionsNotMetError{Unmet: []string{"kyc", "delivery"}}

	if !errors.Is(err, ErrConditionsNotMet) {
		t.Error("ConditionsNotMetError does not match ErrConditionsNotMet")
	}
	msg := err.Error()
	if !strings.Contains(msg, "kyc") || !strings.Contains(msg, "delivery") {
		t.Errorf("Error() = %q; want unmet ids listed", msg)
	}
}

func TestSubmitErrorWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	err := &SubmitError{Reason: "node unavailable", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("SubmitError does not unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "node unavailable") {
		t.Errorf("Error() = %q; want the reason included", err.Error())
	}

	bare := &SubmitError{Reason: "rejected"}
	if !strings.Contains(bare.Error(), "rejected") {
		t.Errorf("Error() = %q; want the reason included", bare.Error())
	}
}
