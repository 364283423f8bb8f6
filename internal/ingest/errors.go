package ingest

import "errors"

// Sentinel errors for whole-batch failures. All are recoverable by the
// caller: split the batch for ErrBatchTooLarge, back off for ErrOverloaded.
var (
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
	ErrOverloaded    = errors.New("pending writes above high-water mark")
	ErrClosed        = errors.New("ingestion buffer closed")
)
