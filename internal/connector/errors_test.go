package connector

import (
	"errors"
	"strings"
	"testing"
)

func TestAdapterCountErrorMessage(t *testing.T) {
	err := &AdapterCountError{Count: 2}
	if !strings.Contains(err.Error(), "found 2") {
		t.Errorf("Error() = %q, want it to mention the count", err.Error())
	}
}

func TestTransportErrorUnwraps(t *testing.T) {
	cause := errors.New("att error")
	err := transportErr("read", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is(transportErr, cause) = false, want true")
	}
	if got, want := err.Error(), "connector: read: att error"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
