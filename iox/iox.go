// Package iox provides small I/O helpers shared by the storage, transport
// and CLI packages.
package iox

import (
	"errors"
	"fmt"
	"io"
)

// ErrTooLarge is returned by ReadAllLimit when the reader yields more than the limit.
var ErrTooLarge = errors.New("read exceeds limit")

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(conn))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// ReadAllLimit reads r to EOF, failing with ErrTooLarge once more than
// limit bytes have been read. Stored payloads are bounded, so a larger
// object indicates corruption or a foreign file.
func ReadAllLimit(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
