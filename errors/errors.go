package errors

import (
	"errors"
	"fmt"
)

var (
	ErrBadConfig       = errors.New("config: invalid config")
	ErrUnknownBackend  = errors.New("config: unknown registry backend")
	ErrCanceledByUser  = errors.New("operation canceled by user")
	ErrPartialRun      = errors.New("prune: some images could not be processed")
	ErrValidation      = errors.New("validation error")
	ErrTransport       = errors.New("transport error")
	ErrBadRegistryResp = errors.New("registry: unexpected response")

	ErrRetentionPolicyNotFound = errors.New("retention: no policy matches image")
)

var (
	ErrInvalidTimestamp = fmt.Errorf("%w: digest record: invalid timestamp", ErrValidation)
	ErrInvalidDigest    = fmt.Errorf("%w: digest record: invalid digest", ErrValidation)
	ErrInvalidTag       = fmt.Errorf("%w: digest record: invalid tag", ErrValidation)
	ErrDuplicateDigest  = fmt.Errorf("%w: digest record: duplicate digest", ErrValidation)
	ErrInvalidPolicy    = fmt.Errorf("%w: retention policy: negative value", ErrValidation)
)

var (
	ErrListImages   = fmt.Errorf("%w: failed to list images", ErrTransport)
	ErrListDigests  = fmt.Errorf("%w: failed to list digests", ErrTransport)
	ErrDeleteDigest = fmt.Errorf("%w: failed to delete digest", ErrTransport)
)

var ErrUnknownFormat = errors.New("cli: unknown output format")
