// Package feedback holds the normalized client-side cache of the essay
// feedback platform: the domain records, the Store that owns them, the pure
// view functions derived from it, and the backends that persist a Store
// snapshot between sessions.
package feedback

import (
	"errors"
	"time"
)

var ErrInvalidInput = errors.New("invalid input")

// Essay is a text submission. The client never edits essays.
type Essay struct {
	PK         int    `json:"pk"`
	Name       string `json:"name"`
	UploadedBy int    `json:"uploaded_by"`
	Content    string `json:"content"`
	RevisionOf *int   `json:"revision_of"`
}

// FeedbackRequest is the normalized form of a request: the essay is held by
// reference and lives in the Store's essay mapping.
type FeedbackRequest struct {
	PK       int       `json:"pk"`
	EssayID  int       `json:"essay_id"`
	Deadline time.Time `json:"deadline"`
}

type FeedbackResponse struct {
	PK                int        `json:"pk"`
	FeedbackRequestID int        `json:"feedback_request_id"`
	Created           time.Time  `json:"created"`
	Finished          bool       `json:"finished"`
	FinishTime        *time.Time `json:"finish_time"`
	Editor            int        `json:"editor"`
	Content           string     `json:"content"`
}

// IsZero reports whether r is the empty placeholder held before any response
// has been loaded or claimed.
func (r FeedbackResponse) IsZero() bool {
	return r.PK == 0 && r.FeedbackRequestID == 0
}

// FeedbackResponseWithHistory carries the feedback requests made on earlier
// revisions of the response's essay, most recent revision first.
type FeedbackResponseWithHistory struct {
	FeedbackResponse
	PreviousRevisionFeedback []FeedbackRequest `json:"previous_revision_feedback"`
}

// FinishedSummary is one row of the completed feedback list.
type FinishedSummary struct {
	ResponseID  int
	EssayName   string
	CompletedOn time.Time
	Content     string
}

// RevisionFeedback pairs a request from the revision history with its essay.
// Found is false when the essay is not cached.
type RevisionFeedback struct {
	Request FeedbackRequest
	Essay   Essay
	Found   bool
}

type ClaimState int

const (
	// ClaimAvailable: nothing is in progress, the request can be accepted.
	ClaimAvailable ClaimState = iota
	// ClaimOwned: this request is the one in progress.
	ClaimOwned
	// ClaimBlocked: a different request is in progress.
	ClaimBlocked
)

func (c ClaimState) String() string {
	switch c {
	case ClaimOwned:
		return "owned"
	case ClaimBlocked:
		return "blocked"
	default:
		return "available"
	}
}
