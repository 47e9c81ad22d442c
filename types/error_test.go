package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpload, "upload failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithSource("storage")

	if GetErrorCode(err) != ErrUpload {
		t.Fatalf("expected code %s, got %s", ErrUpload, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if err.Source != "storage" || err.HTTPStatus != 502 {
		t.Fatalf("builder metadata lost: %+v", err)
	}
}

func TestError_String(t *testing.T) {
	t.Parallel()

	plain := NewError(ErrTimeout, "job did not finish in time")
	if got, want := plain.Error(), "[TIMEOUT] job did not finish in time"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	withCause := NewError(ErrDownload, "download failed").WithCause(errors.New("connection reset"))
	if got, want := withCause.Error(), "[DOWNLOAD_ERROR] download failed: connection reset"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestAsError_WrappedChain(t *testing.T) {
	t.Parallel()

	typed := NewError(ErrJobFailed, "vendor reported failure").WithRetryable(true)
	wrapped := fmt.Errorf("poll hunyuan3d: %w", typed)

	got, ok := AsError(wrapped)
	if !ok {
		t.Fatalf("expected to find structured error through wrapping")
	}
	if got != typed {
		t.Fatalf("expected the original *Error, got %+v", got)
	}

	// 提取辅助函数也必须穿透包装链
	if GetErrorCode(wrapped) != ErrJobFailed {
		t.Fatalf("expected code %s through wrapping, got %s", ErrJobFailed, GetErrorCode(wrapped))
	}
	if !IsRetryable(wrapped) {
		t.Fatalf("expected retryable flag to survive wrapping")
	}
}

func TestAsError_PlainError(t *testing.T) {
	t.Parallel()

	if _, ok := AsError(errors.New("plain")); ok {
		t.Fatalf("plain errors must not match")
	}
	if code := GetErrorCode(errors.New("plain")); code != "" {
		t.Fatalf("expected empty code for plain error, got %s", code)
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors are never retryable")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil is never retryable")
	}
}

func TestIsClientError(t *testing.T) {
	t.Parallel()

	clientCodes := []ErrorCode{ErrValidation, ErrNotFound, ErrMissingField}
	for _, code := range clientCodes {
		if !IsClientError(code) {
			t.Fatalf("expected %s to be a client error", code)
		}
	}

	serverCodes := []ErrorCode{ErrSubmit, ErrJobFailed, ErrTimeout, ErrResultNotFound, ErrDownload, ErrUpload, ErrSignedURL, ErrConfig, ErrInternalError}
	for _, code := range serverCodes {
		if IsClientError(code) {
			t.Fatalf("expected %s to not be a client error", code)
		}
	}
}
