package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestRegistrationError(t *testing.T) {
	inner := errors.New("bad expression")
	err := &RegistrationError{Op: "schedule", Name: "sync", Reason: "invalid schedule spec", Err: inner}

	if !strings.Contains(err.Error(), "schedule") || !strings.Contains(err.Error(), "sync") {
		t.Errorf("message missing context: %s", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("expected unwrap to reach inner error")
	}

	// Without a wrapped error the message still carries op and reason.
	bare := &RegistrationError{Op: "subscribe", Name: "order.placed", Reason: "handler required"}
	if !strings.Contains(bare.Error(), "handler required") {
		t.Errorf("message missing reason: %s", bare.Error())
	}
}

func TestHandlerError(t *testing.T) {
	inner := errors.New("db unavailable")

	err := &HandlerError{HandlerID: "inventory", Attempts: 3, Err: inner}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("message missing attempts: %s", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("expected unwrap to reach inner error")
	}

	single := &HandlerError{HandlerID: "inventory", Attempts: 1, Err: inner}
	if strings.Contains(single.Error(), "attempts") {
		t.Errorf("single attempt should not mention attempts: %s", single.Error())
	}
}

func TestPanicError(t *testing.T) {
	err := &PanicError{HandlerID: "receipts", Value: "nil map write", Stack: []byte("stack")}
	if !strings.Contains(err.Error(), "receipts") || !strings.Contains(err.Error(), "nil map write") {
		t.Errorf("message missing context: %s", err.Error())
	}
}

func TestFatalError(t *testing.T) {
	inner := errors.New("heap corruption")
	err := &FatalError{Component: "scheduler", Err: inner}

	if !strings.Contains(err.Error(), "scheduler") || !strings.Contains(err.Error(), "fatal") {
		t.Errorf("message missing context: %s", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("expected unwrap to reach inner error")
	}
}
