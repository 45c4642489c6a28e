package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err:  &AppError{Code: ErrCodeNotFound, Message: "job not found"},
			want: "job not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeInternal,
				Message: "failed to process",
				Cause:   errors.New("underlying error"),
			},
			want: "failed to process: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeUnavailable, "store down")

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is should find the cause through Unwrap")
	}
	if Wrap(nil, ErrCodeInternal, "x") != nil {
		t.Errorf("Wrap(nil) should return nil")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code ErrorCode
		msg  string
	}{
		{"not found", NotFoundf("job %s not found", "j1"), ErrCodeNotFound, "job j1 not found"},
		{"validation", Validationf("bad %d", 1), ErrCodeValidation, "bad 1"},
		{"configuration", Configurationf("duplicate rule id %q", "r1"), ErrCodeConfiguration, `duplicate rule id "r1"`},
		{"internal", Internalf("oops"), ErrCodeInternal, "oops"},
		{"wrapf", Wrapf(errors.New("c"), ErrCodeTimeout, "op %s", "x"), ErrCodeTimeout, "op x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("code = %v, want %v", tt.err.Code, tt.code)
			}
			if tt.err.Message != tt.msg {
				t.Errorf("message = %q, want %q", tt.err.Message, tt.msg)
			}
		})
	}
}

func TestPredicates_ThroughWrapping(t *testing.T) {
	base := Configurationf("invalid rule set")
	wrapped := fmt.Errorf("evaluate: %w", base)

	if !IsConfiguration(wrapped) {
		t.Errorf("IsConfiguration should see through fmt.Errorf wrapping")
	}
	if IsValidation(wrapped) || IsNotFound(wrapped) || IsUnavailable(wrapped) {
		t.Errorf("unexpected predicate match for configuration error")
	}
	if GetCode(wrapped) != ErrCodeConfiguration {
		t.Errorf("GetCode() = %v", GetCode(wrapped))
	}
	if GetCode(errors.New("plain")) != "" {
		t.Errorf("GetCode(plain) should be empty")
	}
}

func TestGetField(t *testing.T) {
	err := fmt.Errorf("submit: %w", ValidationField("items", "too many items"))
	if got := GetField(err); got != "items" {
		t.Errorf("GetField() = %q, want items", got)
	}
	if got := GetField(errors.New("plain")); got != "" {
		t.Errorf("GetField(plain) = %q, want empty", got)
	}
}
