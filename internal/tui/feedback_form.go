package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/prompt-edu/feedbackdesk/internal/feedback"
	"github.com/prompt-edu/feedbackdesk/internal/feedbacksync"
)

type formFocus int

const (
	focusEditor formFocus = iota
	focusEssay
)

// feedbackForm is the essay + feedback editor. Saves and the submit are
// serialized here: a submit requested during a save waits for it, and a
// dirty editor is saved before submitting.
type feedbackForm struct {
	requestID  int
	responseID int
	essay      feedback.Essay
	essayView  viewport.Model
	editor     textarea.Model
	focus      formFocus

	lastSaved     string
	saving        bool
	resave        bool
	submitPending bool
	submitting    bool
	editSeq       int
}

func newFeedbackForm(requestID int, response feedback.FeedbackResponse, essay feedback.Essay) *feedbackForm {
	editor := textarea.New()
	editor.Placeholder = "Your feedback"
	editor.ShowLineNumbers = false
	editor.CharLimit = 0
	editor.SetValue(response.Content)

	essayView := viewport.New(60, 20)
	essayView.SetContent(essay.Content)

	return &feedbackForm{
		requestID:  requestID,
		responseID: response.PK,
		essay:      essay,
		essayView:  essayView,
		editor:     editor,
		lastSaved:  response.Content,
	}
}

func (f *feedbackForm) resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	paneWidth := max(20, width/2-4)
	paneHeight := max(5, height-10)
	f.essayView.Width = paneWidth
	f.essayView.Height = paneHeight
	f.essayView.SetContent(lipgloss.NewStyle().Width(paneWidth).Render(f.essay.Content))
	f.editor.SetWidth(paneWidth)
	f.editor.SetHeight(paneHeight)
}

func (f *feedbackForm) focusEditor() tea.Cmd {
	f.focus = focusEditor
	return f.editor.Focus()
}

func (f *feedbackForm) dirty() bool {
	return f.editor.Value() != f.lastSaved
}

func (f *feedbackForm) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	if f.focus == focusEditor {
		f.editor, cmd = f.editor.Update(msg)
	} else {
		f.essayView, cmd = f.essayView.Update(msg)
	}
	return cmd
}

func (f *feedbackForm) view(history []feedback.RevisionFeedback) string {
	title := titleStyle.Render(f.essay.Name)
	essayPane, editorPane := paneStyle, paneStyle
	if f.focus == focusEditor {
		editorPane = focusedPaneStyle
	} else {
		essayPane = focusedPaneStyle
	}
	left := essayPane.Render(lipgloss.JoinVertical(lipgloss.Left, "Essay", f.essayView.View()))
	right := editorPane.Render(lipgloss.JoinVertical(lipgloss.Left, "Your Feedback", f.editor.View()))

	state := mutedStyle.Render("saved")
	switch {
	case f.submitting || f.submitPending:
		state = mutedStyle.Render("submitting...")
	case f.saving:
		state = mutedStyle.Render("saving...")
	case f.dirty():
		state = mutedStyle.Render("unsaved changes")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		renderHistory(history),
		lipgloss.JoinHorizontal(lipgloss.Top, left, right),
		state+"  "+hintStyle.Render("tab switch pane · ctrl+s submit · esc back"),
	)
}

func renderHistory(history []feedback.RevisionFeedback) string {
	if len(history) == 0 {
		return mutedStyle.Render("Previous Feedback: none")
	}
	names := make([]string, 0, len(history))
	for _, h := range history {
		name := "Unknown essay"
		if h.Found {
			name = h.Essay.Name
		}
		names = append(names, fmt.Sprintf("%s (due %s)", name, h.Request.Deadline.Local().Format("Jan 2, 2006")))
	}
	return mutedStyle.Render("Previous Feedback: " + strings.Join(names, ", "))
}

func (a *App) updateFeedback(msg tea.KeyMsg) tea.Cmd {
	f := a.form
	if f == nil {
		a.screen = screenRequests
		return nil
	}
	switch msg.String() {
	case "tab", "shift+tab":
		if f.focus == focusEditor {
			f.editor.Blur()
			f.focus = focusEssay
			return a.saveIfDirty()
		}
		return f.focusEditor()
	case "ctrl+s":
		return a.requestSubmit()
	case "esc":
		f.editor.Blur()
		cmd := a.saveIfDirty()
		a.screen = screenRequests
		a.refreshRequests()
		return cmd
	}
	before := f.editor.Value()
	cmd := f.update(msg)
	if f.focus == focusEditor && f.editor.Value() != before {
		f.editSeq++
		seq := f.editSeq
		pause := tea.Tick(a.quiet, func(time.Time) tea.Msg { return draftPauseMsg{seq: seq} })
		return tea.Batch(cmd, pause)
	}
	return cmd
}

// saveIfDirty starts a save unless one is running, in which case the
// running save is followed by another.
func (a *App) saveIfDirty() tea.Cmd {
	f := a.form
	if f == nil || !f.dirty() || f.submitting {
		return nil
	}
	if f.saving {
		f.resave = true
		return nil
	}
	return a.saveDraftCmd()
}

func (a *App) saveDraftCmd() tea.Cmd {
	f := a.form
	f.saving = true
	f.resave = false
	content := f.editor.Value()
	response := a.store.InProgressResponse()
	if response.PK != f.responseID {
		response = feedback.FeedbackResponse{PK: f.responseID, FeedbackRequestID: f.requestID}
	}
	response.Content = content
	responseID := f.responseID
	return func() tea.Msg {
		ctx, cancel := a.callContext()
		defer cancel()
		return draftSavedMsg{content: content, err: a.actions.SaveDraft(ctx, responseID, response)}
	}
}

func (a *App) handleDraftSaved(msg draftSavedMsg) tea.Cmd {
	f := a.form
	if f == nil {
		return nil
	}
	f.saving = false
	if msg.err != nil {
		f.submitPending = false
		a.logger.Warn("draft save failed", zap.Int("response", f.responseID), zap.Error(msg.err))
		text := msgSaveFailed
		if errors.Is(msg.err, feedbacksync.ErrResponseFinished) {
			text = msgSaveFailed + ": feedback was already submitted"
		}
		return a.setStatus(text, true)
	}
	f.lastSaved = msg.content
	if f.submitPending {
		if f.dirty() {
			return a.saveDraftCmd()
		}
		return a.submitCmd()
	}
	if f.resave && f.dirty() {
		return a.saveDraftCmd()
	}
	return nil
}

// requestSubmit submits once no save is running and the editor is saved.
func (a *App) requestSubmit() tea.Cmd {
	f := a.form
	if f == nil || f.submitting || f.submitPending {
		return nil
	}
	if f.saving {
		f.submitPending = true
		return nil
	}
	if f.dirty() {
		f.submitPending = true
		return a.saveDraftCmd()
	}
	return a.submitCmd()
}

func (a *App) submitCmd() tea.Cmd {
	f := a.form
	f.submitPending = false
	f.submitting = true
	responseID := f.responseID
	return func() tea.Msg {
		ctx, cancel := a.callContext()
		defer cancel()
		return submitDoneMsg{err: a.actions.SubmitFeedback(ctx, responseID)}
	}
}

func (a *App) handleSubmitDone(msg submitDoneMsg) tea.Cmd {
	if a.form != nil {
		a.form.submitting = false
	}
	if msg.err != nil {
		a.logger.Warn("submit failed", zap.Error(msg.err))
		return a.setStatus(msgSubmitFailed, true)
	}
	a.form = nil
	a.screen = screenRequests
	a.refreshRequests()
	return a.setStatus("Feedback submitted", false)
}
