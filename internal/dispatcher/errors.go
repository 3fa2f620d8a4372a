package dispatcher

import "fmt"

// PublishError reports the output of a commit job that could not be published.
type PublishError struct {
	Index    int
	ResultID string
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish output %d (%s): %v", e.Index, e.ResultID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
