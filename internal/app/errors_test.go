package app

import (
	"errors"
	"fmt"
	"testing"

	"github.com/coursekeep/coursekeep/internal/ports"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"unqualified network error", errors.New("connection reset"), true},
		{"fetch failure", &CodedError{Code: CodeFetchFailed}, true},
		{"mux failure", &CodedError{Code: CodeMuxFailed}, true},
		{"fetch marked permanent", &CodedError{Code: CodeFetchFailed, Permanent: true}, false},
		{"license denied", &CodedError{Code: CodeLicenseDenied}, false},
		{"decrypt failed", &CodedError{Code: CodeDecryptFailed}, false},
		{"content locked", &CodedError{Code: CodeContentLocked}, false},
		{"invalid selection", &CodedError{Code: CodeInvalidSelection}, false},
		{"auth expired", &CodedError{Code: CodeAuthExpired}, false},
		{"wrapped coded error", fmt.Errorf("attempt 2: %w", &CodedError{Code: CodeLicenseDenied}), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("%s: Retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCodedErrorUnwraps(t *testing.T) {
	cause := ports.ErrInvalidCredentials
	err := &CodedError{Code: CodeAuthInvalidCredentials, Message: "login failed", Err: cause}
	if !errors.Is(err, ports.ErrInvalidCredentials) {
		t.Fatalf("coded error should unwrap to its cause")
	}
	if err.Error() != "login failed: invalid credentials" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestAuthCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ports.ErrInvalidCredentials, CodeAuthInvalidCredentials},
		{ports.ErrCaptchaRequired, CodeAuthCaptchaRequired},
		{ports.ErrMFARequired, CodeAuthMFARequired},
		{ports.ErrExpiredUnrecoverable, CodeAuthExpired},
		{errors.New("other"), ""},
	}
	for _, tc := range cases {
		if got := authCode(tc.err); got != tc.want {
			t.Errorf("authCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
