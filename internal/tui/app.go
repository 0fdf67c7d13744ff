// Package tui is the interactive front end: a bubbletea program whose screens
// read derived views from the feedback Store and change it only through
// feedbacksync.Actions.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/prompt-edu/feedbackdesk/internal/feedback"
	"github.com/prompt-edu/feedbackdesk/internal/feedbacksync"
)

type screen int

const (
	screenLoading screen = iota
	screenRequests
	screenFeedback
	screenFinished
	screenFinishedDetail
)

const (
	statusDuration = 4 * time.Second

	msgLoadFailed     = "Failed to load essays. Please refresh this page to try again."
	msgClaimFailed    = "Failed to start feedback response"
	msgSaveFailed     = "Something went wrong while saving feedback"
	msgSubmitFailed   = "Something went wrong while submitting feedback"
	msgFinishedFailed = "Failed to load finished feedback requests"
)

type bootstrapDoneMsg struct{ err error }

type claimDoneMsg struct {
	requestID int
	err       error
}

type historyLoadedMsg struct{ err error }

type draftSavedMsg struct {
	content string
	err     error
}

type draftPauseMsg struct{ seq int }

type submitDoneMsg struct{ err error }

type finishedLoadedMsg struct{ err error }

type logoutDoneMsg struct{ err error }

type statusClearMsg struct{ seq int }

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

func WithContext(ctx context.Context) AppOption {
	return func(a *App) {
		if ctx != nil {
			a.ctx = ctx
		}
	}
}

// WithRequestTimeout bounds each action the TUI starts.
func WithRequestTimeout(timeout time.Duration) AppOption {
	return func(a *App) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// WithQuietPeriod sets how long typing must pause before a draft save.
func WithQuietPeriod(quiet time.Duration) AppOption {
	return func(a *App) {
		if quiet > 0 {
			a.quiet = quiet
		}
	}
}

func WithPageSize(size int) AppOption {
	return func(a *App) {
		if size > 0 {
			a.pageSize = size
		}
	}
}

func WithLogger(logger *zap.Logger) AppOption {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// App is the root bubbletea model.
type App struct {
	actions *feedbacksync.Actions
	store   *feedback.Store
	ctx     context.Context
	timeout time.Duration
	quiet   time.Duration
	logger  *zap.Logger

	screen   screen
	spinner  spinner.Model
	requests list.Model
	form     *feedbackForm
	finished *finishedView

	status    string
	statusErr bool
	statusSeq int

	// LoggedOut reports whether the session ended through logout.
	LoggedOut bool

	pageSize int
	width    int
	height   int
}

func NewApp(actions *feedbacksync.Actions, opts ...AppOption) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	requests := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	requests.Title = "Feedback Requests"
	requests.SetShowStatusBar(false)
	requests.SetFilteringEnabled(false)

	a := &App{
		actions:  actions,
		store:    actions.Store(),
		ctx:      context.Background(),
		timeout:  15 * time.Second,
		quiet:    2 * time.Second,
		logger:   zap.NewNop(),
		screen:   screenLoading,
		spinner:  sp,
		requests: requests,
		pageSize: 10,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.finished = newFinishedView(a.pageSize)
	return a
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.bootstrapCmd())
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.requests.SetSize(max(0, msg.Width-4), max(0, msg.Height-6))
		if a.form != nil {
			a.form.resize(msg.Width, msg.Height)
		}
		a.finished.resize(msg.Width, msg.Height)
		return a, nil

	case spinner.TickMsg:
		if a.screen != screenLoading {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case bootstrapDoneMsg:
		a.screen = screenRequests
		a.refreshRequests()
		if msg.err != nil {
			a.logger.Error("bootstrap failed", zap.Error(msg.err))
			return a, a.setStatus(msgLoadFailed, true)
		}
		return a, nil

	case claimDoneMsg:
		if msg.err != nil {
			a.logger.Warn("claim failed", zap.Int("request", msg.requestID), zap.Error(msg.err))
			return a, a.setStatus(claimFailure(msg.err), true)
		}
		a.refreshRequests()
		return a, a.openFeedback(msg.requestID)

	case historyLoadedMsg:
		if msg.err != nil {
			a.logger.Warn("history load failed", zap.Error(msg.err))
		}
		return a, nil

	case draftPauseMsg:
		if a.form == nil || msg.seq != a.form.editSeq {
			return a, nil
		}
		return a, a.saveIfDirty()

	case draftSavedMsg:
		return a, a.handleDraftSaved(msg)

	case submitDoneMsg:
		return a, a.handleSubmitDone(msg)

	case finishedLoadedMsg:
		if msg.err != nil {
			a.logger.Warn("finished load failed", zap.Error(msg.err))
			return a, a.setStatus(msgFinishedFailed, true)
		}
		a.finished.refresh(a.store)
		return a, nil

	case logoutDoneMsg:
		if msg.err != nil {
			a.logger.Warn("logout failed", zap.Error(msg.err))
			return a, a.setStatus("Logout failed", true)
		}
		a.LoggedOut = true
		return a, tea.Quit

	case statusClearMsg:
		if msg.seq == a.statusSeq {
			a.status = ""
			a.statusErr = false
		}
		return a, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		switch a.screen {
		case screenRequests:
			return a, a.updateRequests(msg)
		case screenFeedback:
			return a, a.updateFeedback(msg)
		case screenFinished:
			return a, a.updateFinished(msg)
		case screenFinishedDetail:
			if key := msg.String(); key == "esc" || key == "enter" || key == "q" {
				a.screen = screenFinished
			}
			return a, nil
		}
	}

	if a.screen == screenFeedback && a.form != nil {
		return a, a.form.update(msg)
	}
	return a, nil
}

func (a *App) View() string {
	var body string
	switch a.screen {
	case screenLoading:
		body = fmt.Sprintf("%s Loading feedback requests...", a.spinner.View())
	case screenRequests:
		body = a.requests.View() + "\n" + hintStyle.Render("enter accept/open · c completed feedback · r refresh · L logout · q quit")
	case screenFeedback:
		body = a.form.view(feedback.ResponseHistory(a.store))
	case screenFinished:
		body = a.finished.view()
	case screenFinishedDetail:
		body = a.finished.detailView()
	}
	header := headerStyle.Render("feedbackdesk")
	parts := []string{header, body}
	if a.status != "" {
		style := successStyle
		if a.statusErr {
			style = errorStyle
		}
		parts = append(parts, style.Render(a.status))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (a *App) updateRequests(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q":
		return tea.Quit
	case "r":
		return a.bootstrapCmd()
	case "c":
		a.screen = screenFinished
		a.finished.refresh(a.store)
		return a.loadFinishedCmd()
	case "L":
		return a.logoutCmd()
	case "enter":
		item, ok := a.requests.SelectedItem().(requestItem)
		if !ok {
			return nil
		}
		switch item.state {
		case feedback.ClaimOwned:
			return a.openFeedback(item.request.PK)
		case feedback.ClaimAvailable:
			return a.claimCmd(item.request.PK)
		}
		return nil
	}
	var cmd tea.Cmd
	a.requests, cmd = a.requests.Update(msg)
	return cmd
}

func (a *App) refreshRequests() {
	_ = a.requests.SetItems(buildRequestItems(a.store))
}

func (a *App) openFeedback(requestID int) tea.Cmd {
	essay, ok := feedback.EssayForFeedbackRequest(a.store, requestID)
	if !ok {
		essay = feedback.Essay{Name: "Unknown essay"}
	}
	response := a.store.InProgressResponse()
	a.form = newFeedbackForm(requestID, response, essay)
	a.form.resize(a.width, a.height)
	a.screen = screenFeedback
	if response.PK == 0 {
		return a.form.focusEditor()
	}
	return tea.Batch(a.form.focusEditor(), a.historyCmd(response.PK))
}

func (a *App) setStatus(text string, isErr bool) tea.Cmd {
	a.statusSeq++
	seq := a.statusSeq
	a.status = text
	a.statusErr = isErr
	return tea.Tick(statusDuration, func(time.Time) tea.Msg { return statusClearMsg{seq: seq} })
}

func (a *App) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(a.ctx, a.timeout)
}

func (a *App) bootstrapCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := a.callContext()
		defer cancel()
		return bootstrapDoneMsg{err: a.actions.Bootstrap(ctx)}
	}
}

func (a *App) claimCmd(requestID int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := a.callContext()
		defer cancel()
		_, err := a.actions.ClaimFeedbackRequest(ctx, requestID)
		return claimDoneMsg{requestID: requestID, err: err}
	}
}

func (a *App) historyCmd(responseID int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := a.callContext()
		defer cancel()
		return historyLoadedMsg{err: a.actions.LoadResponseHistory(ctx, responseID)}
	}
}

func (a *App) loadFinishedCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := a.callContext()
		defer cancel()
		return finishedLoadedMsg{err: a.actions.LoadFinishedResponses(ctx)}
	}
}

func (a *App) logoutCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := a.callContext()
		defer cancel()
		return logoutDoneMsg{err: a.actions.Logout(ctx)}
	}
}

func claimFailure(err error) string {
	var httpErr *feedbacksync.HTTPError
	if errors.As(err, &httpErr) && strings.TrimSpace(httpErr.Detail) != "" {
		return msgClaimFailed + ": " + httpErr.Detail
	}
	return msgClaimFailed
}
