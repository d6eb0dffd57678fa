package common

import "errors"

var (
	ErrNodeQuota        = errors.New("file node quota exhausted")
	ErrSizeQuota        = errors.New("file store size quota exhausted")
	ErrNotFound         = errors.New("no such entry")
	ErrExists           = errors.New("entry already exists")
	ErrNotPopulated     = errors.New("record has not been fetched yet")
	ErrKeyOutOfRange    = errors.New("key out of range for dense index")
	ErrNoSession        = errors.New("no valid contest session")
	ErrInvalidTestNum   = errors.New("invalid test number")
	ErrResponseTooLarge = errors.New("response body too large")
)
