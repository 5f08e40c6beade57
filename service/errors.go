package service

import "errors"

var (
	ErrSegmentNotFound = errors.New("segment not found")
	// ErrSegmentBusy rejects a regenerate while an attempt is in flight.
	ErrSegmentBusy = errors.New("segment is already generating")
	// ErrSegmentNotReady rejects a regenerate before the main run reached the segment.
	ErrSegmentNotReady = errors.New("segment has not been generated yet")
	ErrStoryNotFailed  = errors.New("story is not in the failed stage")

	errStaleAttempt = errors.New("generation attempt superseded")
	errSkipSave     = errors.New("nothing to save")
)
