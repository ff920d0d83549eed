package document

import (
	"context"
	"errors"
)

// Pipeline errors. Callers wrap them with fmt.Errorf("%w: ...") and match with
// errors.Is.
var (
	// ErrIngestion indicates the source could not be read or produced no pages.
	ErrIngestion = errors.New("ingestion failed")

	// ErrTranscription marks a single page that could not be transcribed.
	// It is recovered inside the transcriber and only ever logged.
	ErrTranscription = errors.New("transcription failed")

	// ErrIndexBuild indicates the vector backend rejected or timed out a build.
	ErrIndexBuild = errors.New("index build failed")

	// ErrIndexQuery indicates the vector backend failed while answering a query.
	ErrIndexQuery = errors.New("index query failed")

	// ErrNotReady is returned by Ask before initialization has completed.
	ErrNotReady = errors.New("pipeline not ready")

	// ErrIngestionInProgress is returned when Initialize is called while a
	// previous call is still running.
	ErrIngestionInProgress = errors.New("ingestion already in progress")

	// ErrEmbedding indicates the embedding capability failed.
	ErrEmbedding = errors.New("embedding failed")

	// ErrGeneration indicates the answer generation capability failed.
	ErrGeneration = errors.New("generation failed")

	// ErrInvalidInput indicates malformed caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidFilter indicates a metadata filter that does not match the
	// chunk schema.
	ErrInvalidFilter = errors.New("invalid filter")
)

// IsRetryable reports whether err is an operational failure worth retrying:
// index backend failures and expired deadlines.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrIndexQuery) ||
		errors.Is(err, ErrIndexBuild) ||
		errors.Is(err, context.DeadlineExceeded)
}
