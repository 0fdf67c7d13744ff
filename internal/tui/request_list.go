package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/samber/lo"

	"github.com/prompt-edu/feedbackdesk/internal/feedback"
)

// requestItem implements list.Item for one visible feedback request.
type requestItem struct {
	request feedback.FeedbackRequest
	name    string
	state   feedback.ClaimState
}

func (i requestItem) Title() string {
	switch i.state {
	case feedback.ClaimOwned:
		return ownedStyle.Render(i.name)
	case feedback.ClaimBlocked:
		return blockedStyle.Render(i.name)
	}
	return i.name
}

func (i requestItem) Description() string {
	return fmt.Sprintf("Due %s · %s", i.request.Deadline.Local().Format("Jan 2, 2006"), actionLabel(i.state))
}

func (i requestItem) FilterValue() string { return i.name }

func actionLabel(state feedback.ClaimState) string {
	switch state {
	case feedback.ClaimOwned:
		return "Go To Feedback"
	case feedback.ClaimBlocked:
		return "Accept Request (finish your current feedback first)"
	}
	return "Accept Request"
}

func buildRequestItems(s *feedback.Store) []list.Item {
	return lo.Map(feedback.VisibleFeedbackRequests(s), func(r feedback.FeedbackRequest, _ int) list.Item {
		name := "Unknown essay"
		if essay, ok := feedback.EssayForFeedbackRequest(s, r.PK); ok {
			name = essay.Name
		}
		return requestItem{request: r, name: name, state: feedback.ClaimStateFor(s, r.PK)}
	})
}
