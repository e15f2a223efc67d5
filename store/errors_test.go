package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"open /data/skins: permission denied", ErrPermissionDenied},
		{"operation error S3: GetObject, api error NoSuchKey", ErrNotFound},
		{"write: no space left on device", ErrDiskFull},
		{"request timed out", ErrTimeout},
		{"api error SlowDown: reduce your request rate", ErrThrottled},
		{"NoCredentialProviders: no valid providers", ErrAuth},
		{"dial tcp 10.0.0.1:9000: connection refused", ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := wrapError("put", "skins/x", errors.New(tt.msg))
			if !errors.Is(err, tt.want) {
				t.Errorf("classify(%q) = %v, want %v", tt.msg, err, tt.want)
			}
		})
	}
}

func TestClassifyError_DeadlineIsTimeout(t *testing.T) {
	err := wrapError("get", "", fmt.Errorf("fetch: %w", context.DeadlineExceeded))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("underlying error should stay in the chain")
	}
}

func TestWrapError_Nil(t *testing.T) {
	if wrapError("put", "x", nil) != nil {
		t.Error("wrapError(nil) should be nil")
	}
}

func TestStorageError_Message(t *testing.T) {
	err := wrapError("delete", "skins/data/a.json", errors.New("boom"))
	want := "delete skins/data/a.json: storage error: boom"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
