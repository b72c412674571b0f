package apperr

import (
	"errors"
	"strings"
	"testing"
)

type swipeInput struct {
	Actor  string `validate:"required"`
	Target string `validate:"required,nefield=Actor"`
	Note   string `validate:"max=5"`
	Action string `validate:"oneof=like pass"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name    string
		in      swipeInput
		wantErr string
	}{
		{"valid", swipeInput{"a", "b", "", "like"}, ""},
		{"missing actor", swipeInput{"", "b", "", "like"}, "Actor is required"},
		{"self", swipeInput{"a", "a", "", "like"}, "Target must differ from Actor"},
		{"long note", swipeInput{"a", "b", "toolong", "pass"}, "Note must be at most 5 characters"},
		{"bad action", swipeInput{"a", "b", "", "block"}, "Action must be one of [like pass]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTransientKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient("get chat", cause)
	if !errors.Is(err, ErrTransient) {
		t.Error("expected ErrTransient")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be preserved")
	}
}
