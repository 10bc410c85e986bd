package source

import "github.com/kmoon0001/spec-kit-analyzer-sub006/internal/errors"

const (
	ErrCollectFailed = errors.ErrSourceCollection
	ErrQueueFull     = errors.ErrorCode("source_timing_queue_full")
)
