package pipeline

import "errors"

var (
	// ErrReaderRequired is returned when a source reader is not provided.
	ErrReaderRequired = errors.New("source reader required")

	// ErrProcessorRequired is returned when a batch processor is not provided.
	ErrProcessorRequired = errors.New("batch processor required")

	// ErrSinkRequired is returned when a result sink is not provided.
	ErrSinkRequired = errors.New("result sink required")

	// ErrCheckpointStoreRequired is returned when a checkpoint store is not provided.
	ErrCheckpointStoreRequired = errors.New("checkpoint store required")

	// ErrFetchFailed wraps a source failure that aborted the run.
	ErrFetchFailed = errors.New("batch fetch failed")

	// ErrCommitFailed wraps a sink failure that aborted the run.
	ErrCommitFailed = errors.New("batch commit failed")

	// ErrCheckpointFailed wraps a checkpoint store failure that aborted the run.
	ErrCheckpointFailed = errors.New("checkpoint failed")
)
