package feedback

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

// OrderedFeedbackRequests returns every cached request by ascending deadline,
// ties broken by essay name. Requests equal on both keys keep their
// first-insertion order.
func OrderedFeedbackRequests(s *Store) []FeedbackRequest {
	requests := s.FeedbackRequests()
	names := essayNamesByRequest(s, requests)
	sort.SliceStable(requests, func(i, j int) bool {
		a, b := requests[i], requests[j]
		if !a.Deadline.Equal(b.Deadline) {
			return a.Deadline.Before(b.Deadline)
		}
		return names[a.PK] < names[b.PK]
	})
	return requests
}

// EssayForFeedbackRequest resolves the request's essay. ok is false when
// either the request or its essay is not cached.
func EssayForFeedbackRequest(s *Store, requestID int) (Essay, bool) {
	request, ok := s.FeedbackRequest(requestID)
	if !ok {
		return Essay{}, false
	}
	return s.Essay(request.EssayID)
}

// FinishedFeedbackSummaries projects the finished responses into list rows.
// A response whose request or essay is missing yields a row with an empty
// essay name.
func FinishedFeedbackSummaries(s *Store) []FinishedSummary {
	return lo.Map(s.FinishedResponses(), func(r FeedbackResponse, _ int) FinishedSummary {
		row := FinishedSummary{
			ResponseID: r.PK,
			Content:    r.Content,
		}
		if r.FinishTime != nil {
			row.CompletedOn = *r.FinishTime
		}
		if essay, ok := EssayForFeedbackRequest(s, r.FeedbackRequestID); ok {
			row.EssayName = essay.Name
		}
		return row
	})
}

// VisibleFeedbackRequests is what the request list shows: only the claimed
// request while one is in progress, otherwise every ordered request that has
// not already received finished feedback.
func VisibleFeedbackRequests(s *Store) []FeedbackRequest {
	ordered := OrderedFeedbackRequests(s)
	if inProgress, ok := s.InProgressRequestID(); ok {
		return lo.Filter(ordered, func(r FeedbackRequest, _ int) bool {
			return r.PK == inProgress
		})
	}
	return lo.Reject(ordered, func(r FeedbackRequest, _ int) bool {
		return s.IsRequestFinished(r.PK)
	})
}

func ClaimStateFor(s *Store, requestID int) ClaimState {
	inProgress, ok := s.InProgressRequestID()
	switch {
	case !ok:
		return ClaimAvailable
	case inProgress == requestID:
		return ClaimOwned
	default:
		return ClaimBlocked
	}
}

// ResponseHistory resolves the active response's earlier-revision requests
// to their essays, preserving the server's order.
func ResponseHistory(s *Store) []RevisionFeedback {
	active := s.ActiveResponseWithHistory()
	return lo.Map(active.PreviousRevisionFeedback, func(r FeedbackRequest, _ int) RevisionFeedback {
		essay, ok := s.Essay(r.EssayID)
		return RevisionFeedback{Request: r, Essay: essay, Found: ok}
	})
}

type SummarySortField int

const (
	SortByCompletedOn SummarySortField = iota
	SortByEssayName
)

// Page is one window of finished summaries. Number is 1-based.
type Page struct {
	Rows       []FinishedSummary
	Number     int
	Size       int
	TotalRows  int
	TotalPages int
}

// FilterSummaries keeps rows whose essay name or content contains query,
// case-insensitively. An empty query keeps everything.
func FilterSummaries(rows []FinishedSummary, query string) []FinishedSummary {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return append([]FinishedSummary(nil), rows...)
	}
	return lo.Filter(rows, func(row FinishedSummary, _ int) bool {
		return strings.Contains(strings.ToLower(row.EssayName), query) ||
			strings.Contains(strings.ToLower(row.Content), query)
	})
}

func SortSummaries(rows []FinishedSummary, field SummarySortField, descending bool) []FinishedSummary {
	out := append([]FinishedSummary(nil), rows...)
	less := func(a, b FinishedSummary) bool {
		if field == SortByEssayName {
			return strings.ToLower(a.EssayName) < strings.ToLower(b.EssayName)
		}
		return a.CompletedOn.Before(b.CompletedOn)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if descending {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}

// PageSummaries cuts rows into pages of size and returns page number n,
// clamped into range. size <= 0 means a single page.
func PageSummaries(rows []FinishedSummary, n, size int) Page {
	if size <= 0 {
		size = len(rows)
		if size == 0 {
			size = 1
		}
	}
	chunks := lo.Chunk(rows, size)
	page := Page{
		Size:       size,
		TotalRows:  len(rows),
		TotalPages: len(chunks),
	}
	if len(chunks) == 0 {
		page.Number = 1
		page.TotalPages = 1
		page.Rows = []FinishedSummary{}
		return page
	}
	if n < 1 {
		n = 1
	}
	if n > len(chunks) {
		n = len(chunks)
	}
	page.Number = n
	page.Rows = chunks[n-1]
	return page
}

func essayNamesByRequest(s *Store, requests []FeedbackRequest) map[int]string {
	names := make(map[int]string, len(requests))
	for _, r := range requests {
		if essay, ok := s.Essay(r.EssayID); ok {
			names[r.PK] = essay.Name
		}
	}
	return names
}
