package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOut  string
	}{
		{name: "nil", err: nil, wantCode: 0},
		{name: "silent exit", err: cli.Exit("", 0), wantCode: 0},
		{name: "failure with message", err: cli.Exit("server unreachable", 1), wantCode: 1, wantOut: "server unreachable\n"},
		{name: "usage", err: cli.Exit("push requires exactly one skin file", 2), wantCode: 2, wantOut: "push requires exactly one skin file\n"},
		{name: "wrapped", err: fmt.Errorf("serve: %w", cli.Exit("listen: address in use", 1)), wantCode: 1, wantOut: "listen: address in use\n"},
		{name: "joined", err: errors.Join(errors.New("context"), cli.Exit("", 42)), wantCode: 42},
		{name: "plain error", err: errors.New("boom"), wantCode: 1, wantOut: "Error: boom\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if got := exitStatus(tt.err, &buf); got != tt.wantCode {
				t.Errorf("exitStatus() = %d, want %d", got, tt.wantCode)
			}
			if buf.String() != tt.wantOut {
				t.Errorf("output = %q, want %q", buf.String(), tt.wantOut)
			}
		})
	}
}

func TestExitErrHandler_NilError(t *testing.T) {
	// Must return without exiting.
	exitErrHandler(nil, nil)
}
