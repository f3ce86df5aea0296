// ABOUTME: Playback pipeline errors
// ABOUTME: A sequence gap or a failing output device is fatal to one utterance only
package playback

import (
	"fmt"
	"time"
)

// SequenceGapError reports a missing chunk that did not arrive within the gap timeout
type SequenceGapError struct {
	Utterance uint32
	Expected  uint32
	Waited    time.Duration
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("utterance %d: chunk %d missing after %v", e.Utterance, e.Expected, e.Waited)
}

// maxWriteFailures is how many consecutive device writes may fail before the utterance is dropped
const maxWriteFailures = 3

// OutputError reports an output device that kept rejecting audio
type OutputError struct {
	Utterance uint32
	Attempts  int
	Err       error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("utterance %d: output write failed %d times: %v", e.Utterance, e.Attempts, e.Err)
}

func (e *OutputError) Unwrap() error {
	return e.Err
}
