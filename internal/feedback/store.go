package feedback

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Store is the normalized entity cache. Essays and feedback requests are
// keyed by primary key and merged on every write (last write wins); the
// in-progress pointers, the finished list and the active response with
// history are singletons replaced wholesale. Nothing is ever evicted.
//
// Only synchronization actions write to a Store. Every reader returns a copy.
type Store struct {
	mu sync.RWMutex

	essays       map[int]Essay
	essayOrder   []int
	requests     map[int]FeedbackRequest
	requestOrder []int

	inProgressRequestID *int
	inProgressResponse  FeedbackResponse
	finishedResponses   []FeedbackResponse
	activeWithHistory   FeedbackResponseWithHistory
	submitted           map[int]struct{}
	finishedRequests    map[int]struct{}
}

// Snapshot is the serializable image of a Store. Collections are kept in
// first-insertion order so a restored Store sorts the same way.
type Snapshot struct {
	Essays                    []Essay                     `json:"essays"`
	FeedbackRequests          []FeedbackRequest           `json:"feedbackRequests"`
	InProgressRequestID       *int                        `json:"feedbackRequestIdInProgress"`
	InProgressResponse        FeedbackResponse            `json:"feedbackResponseInProgress"`
	FinishedResponses         []FeedbackResponse          `json:"finishedFeedbackResponses"`
	ActiveResponseWithHistory FeedbackResponseWithHistory `json:"activeFeedbackWithHistory"`
	SubmittedResponseIDs      []int                       `json:"submittedResponseIds,omitempty"`
	FinishedRequestIDs        []int                       `json:"finishedRequestIds,omitempty"`
	SavedAt                   time.Time                   `json:"savedAt"`
}

func NewStore() *Store {
	return &Store{
		essays:            map[int]Essay{},
		requests:          map[int]FeedbackRequest{},
		finishedResponses: []FeedbackResponse{},
		submitted:         map[int]struct{}{},
		finishedRequests:  map[int]struct{}{},
	}
}

func (s *Store) UpsertEssay(essay Essay) {
	s.UpsertEssays([]Essay{essay})
}

func (s *Store) UpsertEssays(essays []Essay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, essay := range essays {
		if _, ok := s.essays[essay.PK]; !ok {
			s.essayOrder = append(s.essayOrder, essay.PK)
		}
		s.essays[essay.PK] = cloneEssay(essay)
	}
}

func (s *Store) UpsertFeedbackRequest(request FeedbackRequest) {
	s.UpsertFeedbackRequests([]FeedbackRequest{request})
}

func (s *Store) UpsertFeedbackRequests(requests []FeedbackRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, request := range requests {
		if _, ok := s.requests[request.PK]; !ok {
			s.requestOrder = append(s.requestOrder, request.PK)
		}
		s.requests[request.PK] = request
	}
}

// SetInProgressRequestID sets the claimed request pointer; nil clears it.
func (s *Store) SetInProgressRequestID(id *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgressRequestID = cloneIntPtr(id)
}

func (s *Store) SetInProgressResponse(response FeedbackResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgressResponse = cloneResponse(response)
	if response.Finished {
		s.markFinishedLocked(response)
	}
}

func (s *Store) SetFinishedResponses(responses []FeedbackResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedResponses = lo.Map(responses, func(r FeedbackResponse, _ int) FeedbackResponse {
		return cloneResponse(r)
	})
	for _, r := range responses {
		if r.Finished {
			s.markFinishedLocked(r)
		}
	}
}

func (s *Store) SetActiveResponseWithHistory(response FeedbackResponseWithHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeWithHistory = cloneResponseWithHistory(response)
}

// MarkResponseFinished records that a response was submitted. A finished
// response no longer accepts drafts.
func (s *Store) MarkResponseFinished(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted[id] = struct{}{}
	if s.inProgressResponse.PK == id {
		s.inProgressResponse.Finished = true
		s.markFinishedLocked(s.inProgressResponse)
	}
}

// Reset drops everything, as after a logout.
func (s *Store) Reset() {
	fresh := NewStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.essays = fresh.essays
	s.essayOrder = nil
	s.requests = fresh.requests
	s.requestOrder = nil
	s.inProgressRequestID = nil
	s.inProgressResponse = FeedbackResponse{}
	s.finishedResponses = fresh.finishedResponses
	s.activeWithHistory = FeedbackResponseWithHistory{}
	s.submitted = fresh.submitted
	s.finishedRequests = fresh.finishedRequests
}

func (s *Store) markFinishedLocked(r FeedbackResponse) {
	s.submitted[r.PK] = struct{}{}
	if r.FeedbackRequestID != 0 {
		s.finishedRequests[r.FeedbackRequestID] = struct{}{}
	}
}

func (s *Store) Essay(pk int) (Essay, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	essay, ok := s.essays[pk]
	return cloneEssay(essay), ok
}

func (s *Store) FeedbackRequest(pk int) (FeedbackRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[pk]
	return request, ok
}

// Essays returns every cached essay in first-insertion order.
func (s *Store) Essays() []Essay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.essayOrder, func(pk int, _ int) Essay {
		return cloneEssay(s.essays[pk])
	})
}

// FeedbackRequests returns every cached request in first-insertion order.
func (s *Store) FeedbackRequests() []FeedbackRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.requestOrder, func(pk int, _ int) FeedbackRequest {
		return s.requests[pk]
	})
}

func (s *Store) InProgressRequestID() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.inProgressRequestID == nil {
		return 0, false
	}
	return *s.inProgressRequestID, true
}

func (s *Store) InProgressResponse() FeedbackResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneResponse(s.inProgressResponse)
}

func (s *Store) FinishedResponses() []FeedbackResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.finishedResponses, func(r FeedbackResponse, _ int) FeedbackResponse {
		return cloneResponse(r)
	})
}

func (s *Store) ActiveResponseWithHistory() FeedbackResponseWithHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneResponseWithHistory(s.activeWithHistory)
}

func (s *Store) IsResponseFinished(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.submitted[id]; ok {
		return true
	}
	return s.inProgressResponse.PK == id && s.inProgressResponse.Finished
}

// IsRequestFinished reports whether some response to requestID is known to
// be finished.
func (s *Store) IsRequestFinished(requestID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.finishedRequests[requestID]
	return ok
}

func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	submitted := lo.Keys(s.submitted)
	sort.Ints(submitted)
	finishedRequests := lo.Keys(s.finishedRequests)
	sort.Ints(finishedRequests)
	snapshot := &Snapshot{
		Essays: lo.Map(s.essayOrder, func(pk int, _ int) Essay {
			return cloneEssay(s.essays[pk])
		}),
		FeedbackRequests: lo.Map(s.requestOrder, func(pk int, _ int) FeedbackRequest {
			return s.requests[pk]
		}),
		InProgressRequestID: cloneIntPtr(s.inProgressRequestID),
		InProgressResponse:  cloneResponse(s.inProgressResponse),
		FinishedResponses: lo.Map(s.finishedResponses, func(r FeedbackResponse, _ int) FeedbackResponse {
			return cloneResponse(r)
		}),
		ActiveResponseWithHistory: cloneResponseWithHistory(s.activeWithHistory),
		SubmittedResponseIDs:      submitted,
		FinishedRequestIDs:        finishedRequests,
		SavedAt:                   time.Now().UTC(),
	}
	return snapshot
}

// Restore replaces the whole Store content with snapshot. A nil snapshot is
// a no-op so a fresh backend leaves the initial state in place.
func (s *Store) Restore(snapshot *Snapshot) {
	if snapshot == nil {
		return
	}
	fresh := NewStore()
	fresh.UpsertEssays(snapshot.Essays)
	fresh.UpsertFeedbackRequests(snapshot.FeedbackRequests)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.essays = fresh.essays
	s.essayOrder = fresh.essayOrder
	s.requests = fresh.requests
	s.requestOrder = fresh.requestOrder
	s.inProgressRequestID = cloneIntPtr(snapshot.InProgressRequestID)
	s.inProgressResponse = cloneResponse(snapshot.InProgressResponse)
	s.finishedResponses = lo.Map(snapshot.FinishedResponses, func(r FeedbackResponse, _ int) FeedbackResponse {
		return cloneResponse(r)
	})
	s.activeWithHistory = cloneResponseWithHistory(snapshot.ActiveResponseWithHistory)
	s.submitted = map[int]struct{}{}
	for _, id := range snapshot.SubmittedResponseIDs {
		s.submitted[id] = struct{}{}
	}
	s.finishedRequests = map[int]struct{}{}
	for _, id := range snapshot.FinishedRequestIDs {
		s.finishedRequests[id] = struct{}{}
	}
	for _, r := range s.finishedResponses {
		if r.Finished {
			s.markFinishedLocked(r)
		}
	}
	if s.inProgressResponse.Finished {
		s.markFinishedLocked(s.inProgressResponse)
	}
}

func cloneIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTimePtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneEssay(e Essay) Essay {
	e.RevisionOf = cloneIntPtr(e.RevisionOf)
	return e
}

func cloneResponse(r FeedbackResponse) FeedbackResponse {
	r.FinishTime = cloneTimePtr(r.FinishTime)
	return r
}

func cloneResponseWithHistory(r FeedbackResponseWithHistory) FeedbackResponseWithHistory {
	r.FeedbackResponse = cloneResponse(r.FeedbackResponse)
	if r.PreviousRevisionFeedback != nil {
		r.PreviousRevisionFeedback = append([]FeedbackRequest(nil), r.PreviousRevisionFeedback...)
	}
	return r
}
