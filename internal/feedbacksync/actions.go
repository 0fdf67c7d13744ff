package feedbacksync

import (
	"context"
	"errors"
	"fmt"

	"github.com/prompt-edu/feedbackdesk/internal/feedback"
	"github.com/samber/lo"
)

var (
	// ErrResponseFinished rejects drafts for a response that was submitted.
	ErrResponseFinished     = errors.New("feedback response is finished")
	ErrNoResponseInProgress = errors.New("no feedback response in progress")
)

// Actions pairs each API call with the Store writes it implies. Writes happen
// only after the call returns successfully, so a failed action leaves the
// Store untouched. Errors are returned as the client produced them.
type Actions struct {
	client RemoteClient
	store  *feedback.Store
}

func NewActions(client RemoteClient, store *feedback.Store) *Actions {
	if store == nil {
		store = feedback.NewStore()
	}
	return &Actions{client: client, store: store}
}

func (a *Actions) Store() *feedback.Store {
	return a.store
}

// Bootstrap performs the initial load the request list needs.
func (a *Actions) Bootstrap(ctx context.Context) error {
	if _, err := a.LoadFeedbackRequests(ctx); err != nil {
		return err
	}
	return a.LoadInProgressResponse(ctx)
}

// LoadFeedbackRequests fetches every request and caches requests and their
// embedded essays.
func (a *Actions) LoadFeedbackRequests(ctx context.Context) ([]feedback.FeedbackRequest, error) {
	payloads, err := a.client.ListFeedbackRequests(ctx)
	if err != nil {
		return nil, err
	}
	requests, essays := splitFeedbackRequests(payloads)
	a.store.UpsertEssays(essays)
	a.store.UpsertFeedbackRequests(requests)
	return requests, nil
}

// LoadInProgressResponse claims the editor's unfinished responses. If the
// server returns more than one, the last one wins. A cached claim the server
// no longer lists as unfinished is marked finished, and with an empty list
// the in-progress pointers are cleared.
func (a *Actions) LoadInProgressResponse(ctx context.Context) error {
	payloads, err := a.client.ListFeedbackResponses(ctx, OnlyUnfinished)
	if err != nil {
		return err
	}
	previous := a.store.InProgressResponse()
	if previous.PK != 0 && !lo.ContainsBy(payloads, func(p ResponsePayload) bool { return p.PK == previous.PK }) {
		a.store.MarkResponseFinished(previous.PK)
	}
	if len(payloads) == 0 {
		a.store.SetInProgressRequestID(nil)
		a.store.SetInProgressResponse(feedback.FeedbackResponse{})
		return nil
	}
	for _, payload := range payloads {
		a.setInProgress(payload)
	}
	return nil
}

// LoadFinishedResponses replaces the finished list and caches the requests
// and essays the rows refer to.
func (a *Actions) LoadFinishedResponses(ctx context.Context) error {
	payloads, err := a.client.ListFeedbackResponses(ctx, OnlyFinished)
	if err != nil {
		return err
	}
	requests, essays := splitFeedbackRequests(lo.Map(payloads, func(p ResponsePayload, _ int) RequestPayload {
		return p.FeedbackRequest
	}))
	a.store.UpsertEssays(essays)
	a.store.UpsertFeedbackRequests(requests)
	a.store.SetFinishedResponses(lo.Map(payloads, func(p ResponsePayload, _ int) feedback.FeedbackResponse {
		return normalizeResponse(p)
	}))
	return nil
}

// LoadResponseHistory replaces the active response with its revision
// history. Essays from the history are cached; their requests are not, since
// they belong to earlier revisions and are not work for this editor.
func (a *Actions) LoadResponseHistory(ctx context.Context, responseID int) error {
	payload, err := a.client.GetFeedbackResponse(ctx, responseID)
	if err != nil {
		return err
	}
	withHistory, essays := normalizeResponseWithHistory(payload)
	a.store.UpsertEssays(essays)
	a.store.SetActiveResponseWithHistory(withHistory)
	return nil
}

// ClaimFeedbackRequest starts a response on requestID. Any previously
// claimed request is replaced.
func (a *Actions) ClaimFeedbackRequest(ctx context.Context, requestID int) (feedback.FeedbackResponse, error) {
	payload, err := a.client.StartFeedbackResponse(ctx, requestID)
	if err != nil {
		return feedback.FeedbackResponse{}, err
	}
	if payload.FeedbackRequest.PK == 0 {
		payload.FeedbackRequest.PK = requestID
	}
	return a.setInProgress(payload), nil
}

// SaveDraft sends response's content for responseID and caches the server's
// copy. Submitted responses are rejected without a network call.
func (a *Actions) SaveDraft(ctx context.Context, responseID int, response feedback.FeedbackResponse) error {
	if a.store.IsResponseFinished(responseID) || response.Finished {
		return fmt.Errorf("%w: response %d", ErrResponseFinished, responseID)
	}
	payload, err := a.client.UpdateFeedbackResponse(ctx, responseID, ResponseUpdate{Content: response.Content})
	if err != nil {
		return err
	}
	saved := response
	if payload.PK != 0 {
		saved = normalizeResponse(payload)
	}
	if saved.PK == 0 {
		saved.PK = responseID
	}
	a.store.SetInProgressResponse(saved)
	return nil
}

// SaveInProgressDraft saves content against the response currently in
// progress.
func (a *Actions) SaveInProgressDraft(ctx context.Context, content string) error {
	current := a.store.InProgressResponse()
	if current.IsZero() {
		return ErrNoResponseInProgress
	}
	current.Content = content
	return a.SaveDraft(ctx, current.PK, current)
}

// SubmitFeedback finishes responseID and clears the in-progress request.
func (a *Actions) SubmitFeedback(ctx context.Context, responseID int) error {
	payload, err := a.client.FinishFeedbackResponse(ctx, responseID)
	if err != nil {
		return err
	}
	a.store.SetInProgressRequestID(nil)
	if payload.PK == responseID && a.store.InProgressResponse().PK == responseID {
		a.store.SetInProgressResponse(normalizeResponse(payload))
	}
	a.store.MarkResponseFinished(responseID)
	return nil
}

func (a *Actions) Login(ctx context.Context, username, password string) error {
	return a.client.Login(ctx, username, password)
}

// Logout ends the session and empties the Store. A session the server
// already dropped counts as logged out.
func (a *Actions) Logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil && !errors.Is(err, ErrUnauthorized) {
		return err
	}
	a.store.Reset()
	return nil
}

func (a *Actions) setInProgress(payload ResponsePayload) feedback.FeedbackResponse {
	request, essay := splitFeedbackRequest(payload.FeedbackRequest)
	if essay.PK != 0 {
		a.store.UpsertEssay(essay)
		a.store.UpsertFeedbackRequest(request)
	}
	response := normalizeResponse(payload)
	requestID := response.FeedbackRequestID
	a.store.SetInProgressRequestID(&requestID)
	a.store.SetInProgressResponse(response)
	return response
}

func splitFeedbackRequest(p RequestPayload) (feedback.FeedbackRequest, feedback.Essay) {
	essay := p.Essay
	if essay.RevisionOf != nil {
		rev := *essay.RevisionOf
		essay.RevisionOf = &rev
	}
	return feedback.FeedbackRequest{PK: p.PK, EssayID: essay.PK, Deadline: p.Deadline}, essay
}

func splitFeedbackRequests(payloads []RequestPayload) ([]feedback.FeedbackRequest, []feedback.Essay) {
	requests := make([]feedback.FeedbackRequest, 0, len(payloads))
	essays := make([]feedback.Essay, 0, len(payloads))
	for _, p := range payloads {
		request, essay := splitFeedbackRequest(p)
		requests = append(requests, request)
		essays = append(essays, essay)
	}
	return requests, essays
}

func normalizeResponse(p ResponsePayload) feedback.FeedbackResponse {
	return feedback.FeedbackResponse{
		PK:                p.PK,
		FeedbackRequestID: p.FeedbackRequest.PK,
		Created:           p.Created,
		Finished:          p.Finished,
		FinishTime:        p.FinishTime,
		Editor:            p.Editor,
		Content:           p.Content,
	}
}

func normalizeResponseWithHistory(p ResponsePayload) (feedback.FeedbackResponseWithHistory, []feedback.Essay) {
	history, essays := splitFeedbackRequests(p.PreviousRevisionFeedback)
	if p.FeedbackRequest.Essay.PK != 0 {
		essays = append([]feedback.Essay{p.FeedbackRequest.Essay}, essays...)
	}
	return feedback.FeedbackResponseWithHistory{
		FeedbackResponse:         normalizeResponse(p),
		PreviousRevisionFeedback: history,
	}, essays
}
