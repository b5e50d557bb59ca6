package store

import (
	"fmt"

	"github.com/go-go-golems/pocketbrain/pkg/brain/securecodec"
	"github.com/pkg/errors"
)

var (
	ErrClosed   = errors.New("store is closed")
	ErrNotOpen  = errors.New("store is not open")
	ErrNotFound = errors.New("brain file not found")
)

// MalformedDataError is returned when a brain file decrypts but its plaintext
// cannot be decoded into a tree.
type MalformedDataError struct {
	Path string
	Err  error
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed brain data in %s: %v", e.Path, e.Err)
}

func (e *MalformedDataError) Unwrap() error {
	return e.Err
}

// IsCorrupt reports whether err means the brain file exists but cannot be
// used as is.
func IsCorrupt(err error) bool {
	var authErr *securecodec.AuthenticationError
	var malformed *MalformedDataError
	return errors.As(err, &authErr) || errors.As(err, &malformed)
}
