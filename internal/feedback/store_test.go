package feedback

import (
	"reflect"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestUpsertEssaysIsIdempotent(t *testing.T) {
	essays := []Essay{
		{PK: 1, Name: "A", UploadedBy: 10, Content: "first"},
		{PK: 2, Name: "B", UploadedBy: 11, Content: "second", RevisionOf: intPtr(1)},
	}
	once := NewStore()
	once.UpsertEssays(essays)

	twice := NewStore()
	twice.UpsertEssays(essays)
	twice.UpsertEssays(essays)

	if !reflect.DeepEqual(once.Essays(), twice.Essays()) {
		t.Fatalf("expected identical essays, got %+v and %+v", once.Essays(), twice.Essays())
	}
	if got := len(twice.Essays()); got != 2 {
		t.Fatalf("expected 2 essays, got %d", got)
	}
}

func TestUpsertMergesAndOverwritesByPrimaryKey(t *testing.T) {
	s := NewStore()
	s.UpsertEssays([]Essay{{PK: 1, Name: "old"}, {PK: 2, Name: "two"}})
	s.UpsertEssays([]Essay{{PK: 1, Name: "new"}, {PK: 3, Name: "three"}})

	essays := s.Essays()
	if len(essays) != 3 {
		t.Fatalf("expected merge to keep 3 essays, got %d", len(essays))
	}
	if essays[0].PK != 1 || essays[0].Name != "new" {
		t.Fatalf("expected essay 1 overwritten in place, got %+v", essays[0])
	}
	if essays[2].PK != 3 {
		t.Fatalf("expected new essay appended last, got %+v", essays[2])
	}

	deadline := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	s.UpsertFeedbackRequest(FeedbackRequest{PK: 5, EssayID: 1, Deadline: deadline})
	s.UpsertFeedbackRequest(FeedbackRequest{PK: 5, EssayID: 2, Deadline: deadline})
	request, ok := s.FeedbackRequest(5)
	if !ok || request.EssayID != 2 {
		t.Fatalf("expected last write to win for request 5, got %+v ok=%v", request, ok)
	}
	if got := len(s.FeedbackRequests()); got != 1 {
		t.Fatalf("expected one request, got %d", got)
	}
}

func TestFinishedResponsesAreReplacedWholesale(t *testing.T) {
	s := NewStore()
	s.SetFinishedResponses([]FeedbackResponse{{PK: 1, Finished: true}, {PK: 2, Finished: true}})
	s.SetFinishedResponses([]FeedbackResponse{{PK: 3, Finished: true}})

	finished := s.FinishedResponses()
	if len(finished) != 1 || finished[0].PK != 3 {
		t.Fatalf("expected only response 3 after replace, got %+v", finished)
	}
}

func TestActiveResponseWithHistoryIsReplaced(t *testing.T) {
	s := NewStore()
	s.SetActiveResponseWithHistory(FeedbackResponseWithHistory{
		FeedbackResponse:         FeedbackResponse{PK: 1},
		PreviousRevisionFeedback: []FeedbackRequest{{PK: 9}},
	})
	s.SetActiveResponseWithHistory(FeedbackResponseWithHistory{FeedbackResponse: FeedbackResponse{PK: 2}})

	active := s.ActiveResponseWithHistory()
	if active.PK != 2 || len(active.PreviousRevisionFeedback) != 0 {
		t.Fatalf("expected wholesale replace, got %+v", active)
	}
}

func TestInProgressPointers(t *testing.T) {
	s := NewStore()
	if _, ok := s.InProgressRequestID(); ok {
		t.Fatalf("expected no request in progress initially")
	}
	if !s.InProgressResponse().IsZero() {
		t.Fatalf("expected empty in-progress response initially")
	}

	s.SetInProgressRequestID(intPtr(7))
	s.SetInProgressResponse(FeedbackResponse{PK: 70, FeedbackRequestID: 7})
	s.SetInProgressRequestID(intPtr(9))
	s.SetInProgressResponse(FeedbackResponse{PK: 90, FeedbackRequestID: 9})

	id, ok := s.InProgressRequestID()
	if !ok || id != 9 {
		t.Fatalf("expected request 9 in progress, got %d ok=%v", id, ok)
	}
	if got := s.InProgressResponse(); got.PK != 90 {
		t.Fatalf("expected response 90 in progress, got %+v", got)
	}

	s.SetInProgressRequestID(nil)
	if _, ok := s.InProgressRequestID(); ok {
		t.Fatalf("expected nil to clear the in-progress request")
	}
}

func TestReadersReturnCopies(t *testing.T) {
	s := NewStore()
	s.UpsertEssay(Essay{PK: 1, Name: "A", RevisionOf: intPtr(4)})
	essay, _ := s.Essay(1)
	*essay.RevisionOf = 99
	again, _ := s.Essay(1)
	if *again.RevisionOf != 4 {
		t.Fatalf("expected store essay to be unaffected by caller mutation, got %d", *again.RevisionOf)
	}

	id := 3
	s.SetInProgressRequestID(&id)
	id = 4
	if got, _ := s.InProgressRequestID(); got != 3 {
		t.Fatalf("expected stored pointer to be copied, got %d", got)
	}
}

func TestMarkResponseFinished(t *testing.T) {
	s := NewStore()
	s.SetInProgressResponse(FeedbackResponse{PK: 12, FeedbackRequestID: 1})
	if s.IsResponseFinished(12) {
		t.Fatalf("expected response 12 to be open")
	}
	s.MarkResponseFinished(12)
	if !s.IsResponseFinished(12) {
		t.Fatalf("expected response 12 to be finished")
	}
	if !s.InProgressResponse().Finished {
		t.Fatalf("expected in-progress response to carry the finished flag")
	}

	s.SetFinishedResponses([]FeedbackResponse{{PK: 30, Finished: true}})
	if !s.IsResponseFinished(30) {
		t.Fatalf("expected loaded finished response to be known finished")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	finish := time.Date(2024, 2, 1, 10, 30, 0, 0, time.UTC)
	s := NewStore()
	s.UpsertEssays([]Essay{{PK: 2, Name: "B"}, {PK: 1, Name: "A"}})
	s.UpsertFeedbackRequests([]FeedbackRequest{{PK: 20, EssayID: 2}, {PK: 10, EssayID: 1}})
	s.SetInProgressRequestID(intPtr(10))
	s.SetInProgressResponse(FeedbackResponse{PK: 100, FeedbackRequestID: 10, Content: "draft"})
	s.SetFinishedResponses([]FeedbackResponse{{PK: 200, FeedbackRequestID: 20, Finished: true, FinishTime: &finish}})

	restored := NewStore()
	restored.Restore(s.Snapshot())

	if !reflect.DeepEqual(restored.Essays(), s.Essays()) {
		t.Fatalf("essays differ after restore: %+v vs %+v", restored.Essays(), s.Essays())
	}
	if !reflect.DeepEqual(restored.FeedbackRequests(), s.FeedbackRequests()) {
		t.Fatalf("requests differ after restore")
	}
	if id, ok := restored.InProgressRequestID(); !ok || id != 10 {
		t.Fatalf("expected in-progress request 10, got %d ok=%v", id, ok)
	}
	if restored.InProgressResponse().Content != "draft" {
		t.Fatalf("expected draft content to survive restore")
	}
	if !restored.IsResponseFinished(200) {
		t.Fatalf("expected finished ids to survive restore")
	}

	restored.Restore(nil)
	if len(restored.Essays()) != 2 {
		t.Fatalf("expected nil restore to be a no-op")
	}
}

func TestFinishedRequestsSurviveRestoreAndReset(t *testing.T) {
	s := NewStore()
	s.UpsertEssay(Essay{PK: 1, Name: "A"})
	s.UpsertFeedbackRequest(FeedbackRequest{PK: 10, EssayID: 1})
	s.SetInProgressResponse(FeedbackResponse{PK: 100, FeedbackRequestID: 10})
	if s.IsRequestFinished(10) {
		t.Fatalf("expected an unfinished claim not to mark its request")
	}
	s.MarkResponseFinished(100)
	s.SetInProgressRequestID(nil)
	s.SetInProgressResponse(FeedbackResponse{})
	if !s.IsRequestFinished(10) {
		t.Fatalf("expected request 10 to stay finished after the pointers are cleared")
	}

	restored := NewStore()
	restored.Restore(s.Snapshot())
	if !restored.IsRequestFinished(10) || !restored.IsResponseFinished(100) {
		t.Fatalf("expected finished markers to survive restore")
	}

	restored.Reset()
	if restored.IsRequestFinished(10) || len(restored.Essays()) != 0 || len(restored.FeedbackRequests()) != 0 {
		t.Fatalf("expected reset to drop everything")
	}
	if _, ok := restored.InProgressRequestID(); ok {
		t.Fatalf("expected reset to clear the in-progress request")
	}
}
