package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"github.com/prompt-edu/feedbackdesk/internal/feedback"
)

// finishedView is the "Previous Feedback" table with search, sort and
// pagination over the finished summaries.
type finishedView struct {
	table      table.Model
	search     textinput.Model
	searching  bool
	sortField  feedback.SummarySortField
	descending bool
	page       feedback.Page
	pageNumber int
	pageSize   int
	selected   feedback.FinishedSummary
	width      int
}

func newFinishedView(pageSize int) *finishedView {
	search := textinput.New()
	search.Prompt = "/ "
	search.Placeholder = "search essays and feedback"

	t := table.New(
		table.WithColumns(finishedColumns(80)),
		table.WithFocused(true),
		table.WithHeight(pageSize+1),
	)
	return &finishedView{
		table:      t,
		search:     search,
		sortField:  feedback.SortByCompletedOn,
		descending: true,
		pageNumber: 1,
		pageSize:   pageSize,
		width:      80,
	}
}

func finishedColumns(width int) []table.Column {
	nameWidth := max(20, width-30)
	return []table.Column{
		{Title: "Essay Name", Width: nameWidth},
		{Title: "Completed", Width: 26},
	}
}

func (f *finishedView) resize(width, _ int) {
	if width <= 0 {
		return
	}
	f.width = width
	f.table.SetColumns(finishedColumns(width - 4))
}

func (f *finishedView) refresh(s *feedback.Store) {
	rows := feedback.FilterSummaries(feedback.FinishedFeedbackSummaries(s), f.search.Value())
	rows = feedback.SortSummaries(rows, f.sortField, f.descending)
	f.page = feedback.PageSummaries(rows, f.pageNumber, f.pageSize)
	f.pageNumber = f.page.Number
	f.table.SetRows(lo.Map(f.page.Rows, func(r feedback.FinishedSummary, _ int) table.Row {
		return table.Row{summaryName(r), summaryCompleted(r)}
	}))
	// The table clamps an empty page's cursor to -1; recover once rows return.
	if n := len(f.page.Rows); n > 0 && (f.table.Cursor() < 0 || f.table.Cursor() >= n) {
		f.table.SetCursor(min(max(f.table.Cursor(), 0), n-1))
	}
}

func summaryName(r feedback.FinishedSummary) string {
	if r.EssayName == "" {
		return "Unknown essay"
	}
	return r.EssayName
}

func summaryCompleted(r feedback.FinishedSummary) string {
	if r.CompletedOn.IsZero() {
		return "-"
	}
	return r.CompletedOn.Local().Format(completedLayout)
}

func (a *App) updateFinished(msg tea.KeyMsg) tea.Cmd {
	f := a.finished
	if f.searching {
		switch msg.String() {
		case "enter":
			f.searching = false
			f.search.Blur()
			return nil
		case "esc":
			f.searching = false
			f.search.Blur()
			f.search.SetValue("")
			f.pageNumber = 1
			f.refresh(a.store)
			return nil
		}
		var cmd tea.Cmd
		f.search, cmd = f.search.Update(msg)
		f.pageNumber = 1
		f.refresh(a.store)
		return cmd
	}

	switch msg.String() {
	case "esc", "q":
		a.screen = screenRequests
		a.refreshRequests()
		return nil
	case "/":
		f.searching = true
		return f.search.Focus()
	case "n":
		f.sortField = feedback.SortByEssayName
		f.descending = false
	case "d":
		f.sortField = feedback.SortByCompletedOn
		f.descending = true
	case "r":
		f.descending = !f.descending
	case "right", "l":
		f.pageNumber++
	case "left", "h":
		f.pageNumber = max(1, f.pageNumber-1)
	case "enter":
		idx := f.table.Cursor()
		if idx < 0 || idx >= len(f.page.Rows) {
			return nil
		}
		f.selected = f.page.Rows[idx]
		a.screen = screenFinishedDetail
		return nil
	default:
		var cmd tea.Cmd
		f.table, cmd = f.table.Update(msg)
		return cmd
	}
	f.refresh(a.store)
	return nil
}

func (f *finishedView) view() string {
	sortName := "completed"
	if f.sortField == feedback.SortByEssayName {
		sortName = "name"
	}
	direction := "asc"
	if f.descending {
		direction = "desc"
	}
	search := hintStyle.Render("/ search")
	if f.searching || f.search.Value() != "" {
		search = f.search.View()
	}
	footer := hintStyle.Render(fmt.Sprintf(
		"page %d/%d · %d rows · sort %s %s · n name · d date · r reverse · ←/→ page · enter view · esc back",
		f.page.Number, f.page.TotalPages, f.page.TotalRows, sortName, direction,
	))
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Previous Feedback"),
		search,
		f.table.View(),
		footer,
	)
}

func (f *finishedView) detailView() string {
	r := f.selected
	body := lipgloss.NewStyle().Width(max(20, f.width-6)).Render(r.Content)
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(summaryName(r)),
		mutedStyle.Render("Completed "+summaryCompleted(r)),
		paneStyle.Render(body),
		hintStyle.Render("esc back"),
	)
}
