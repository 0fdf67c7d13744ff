package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.uber.org/zap"

	"github.com/prompt-edu/feedbackdesk/internal/config"
	"github.com/prompt-edu/feedbackdesk/internal/feedback"
	"github.com/prompt-edu/feedbackdesk/internal/feedbacksync"
	"github.com/prompt-edu/feedbackdesk/internal/logging"
	"github.com/prompt-edu/feedbackdesk/internal/tui"
)

const usage = `usage: feedbackdesk [--config path] <command> [flags]

commands:
  init       write a default config file
  login      start a session (--username, --password or FEEDBACKDESK_PASSWORD)
  logout     end the session
  list       show open feedback requests
  claim ID   start a response for request ID
  show       print the essay and draft of the response in progress
  draft      save the draft (--content or --file)
  watch      save the draft whenever --file stops changing
  submit     finish the response in progress
  finished   list finished feedback (--search, --sort, --desc, --page)
  history    show earlier revisions' requests for a response
  poll       refresh requests on an interval (--interval, --once)
  tui        interactive mode (default)
`

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2

	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run parses global flags and dispatches one command.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("feedbackdesk", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := global.String("config", config.DefaultPath(), "config file path")
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	rest := global.Args()
	name := "tui"
	if len(rest) > 0 {
		name, rest = rest[0], rest[1:]
	}
	if name == "help" {
		fmt.Fprint(stdout, usage)
		return exitOK
	}
	if name == "init" {
		return report(stderr, cmdInit(*configPath, rest, stdout, stderr))
	}

	handler, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", name, usage)
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return report(stderr, err)
	}
	sess, err := openSession(cfg, name == "tui", stdin, stdout, stderr)
	if err != nil {
		return report(stderr, err)
	}
	err = handler(ctx, sess, rest)
	if closeErr := sess.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if errors.Is(err, errUsage) {
		fmt.Fprintf(stderr, "feedbackdesk: %v\n", err)
		return exitUsage
	}
	return report(stderr, err)
}

var errUsage = errors.New("usage")

func report(stderr io.Writer, err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "feedbackdesk: %v\n", err)
	return exitError
}

type commandFunc func(ctx context.Context, s *session, args []string) error

var commands = map[string]commandFunc{
	"login":    cmdLogin,
	"logout":   cmdLogout,
	"list":     cmdList,
	"claim":    cmdClaim,
	"show":     cmdShow,
	"draft":    cmdDraft,
	"watch":    cmdWatch,
	"submit":   cmdSubmit,
	"finished": cmdFinished,
	"history":  cmdHistory,
	"poll":     cmdPoll,
	"tui":      cmdTUI,
}

// session wires config, logging, the snapshot backend, and the API client
// for one command run.
type session struct {
	cfg     *config.Config
	logger  *zap.Logger
	backend feedback.StateBackend
	client  *feedbacksync.HTTPClient
	actions *feedbacksync.Actions

	stdin          io.Reader
	stdout, stderr io.Writer

	loggedOut bool
}

func openSession(cfg *config.Config, fileLog bool, stdin io.Reader, stdout, stderr io.Writer) (*session, error) {
	logger, err := newLogger(cfg, fileLog)
	if err != nil {
		return nil, err
	}

	backend, err := feedback.BuildStateBackendFromDSN(cfg.StateBackendDSN())
	if err != nil {
		return nil, fmt.Errorf("state backend: %w", err)
	}
	store := feedback.NewStore()
	if backend != nil {
		snapshot, err := backend.Load()
		if err != nil {
			logger.Warn("state load failed, starting empty", zap.Error(err))
		} else {
			store.Restore(snapshot)
		}
	}

	client := feedbacksync.NewHTTPClient(cfg.BaseURL, cfg.Token, &http.Client{Timeout: cfg.RequestTimeout}).
		WithLogger(logger).
		WithRetry(cfg.MaxRetries, retryBaseDelay, retryMaxDelay)
	saved, err := loadSession(cfg.SessionPath())
	if err != nil {
		logger.Warn("session load failed", zap.Error(err))
	}
	client.RestoreSession(saved)

	return &session{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		client:  client,
		actions: feedbacksync.NewActions(client, store),
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

func newLogger(cfg *config.Config, fileLog bool) (*zap.Logger, error) {
	if fileLog {
		return logging.New(cfg.LogFile, cfg.LogLevel)
	}
	return logging.NewConsole(cfg.LogLevel)
}

// close persists the store snapshot and the session cookies.
func (s *session) close() error {
	defer func() { _ = s.logger.Sync() }()
	var errs []error
	if s.backend != nil {
		if err := s.backend.Save(s.actions.Store().Snapshot()); err != nil {
			errs = append(errs, fmt.Errorf("save state: %w", err))
		}
		if err := feedback.CloseStateBackend(s.backend); err != nil {
			errs = append(errs, err)
		}
	}
	if s.loggedOut {
		if err := removeSession(s.cfg.SessionPath()); err != nil {
			errs = append(errs, err)
		}
	} else if err := saveSession(s.cfg.SessionPath(), s.client.Session()); err != nil {
		errs = append(errs, fmt.Errorf("save session: %w", err))
	}
	return errors.Join(errs...)
}

func cmdInit(path string, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	defaults := config.Default()
	baseURL := fs.String("base-url", envOrDefault("FEEDBACKDESK_BASE_URL", defaults.BaseURL), "API base URL")
	username := fs.String("username", strings.TrimSpace(os.Getenv("FEEDBACKDESK_USERNAME")), "default login username")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	defaults.BaseURL = *baseURL
	defaults.Username = *username
	if err := defaults.Validate(); err != nil {
		return err
	}
	if err := config.Init(path, defaults, *force); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)
	return nil
}

func cmdLogin(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(s.stderr)
	username := fs.String("username", s.cfg.Username, "username")
	password := fs.String("password", os.Getenv("FEEDBACKDESK_PASSWORD"), "password")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if strings.TrimSpace(*username) == "" {
		return errors.New("username is required (--username or FEEDBACKDESK_USERNAME)")
	}
	if *password == "" {
		fmt.Fprint(s.stderr, "password: ")
		line, err := bufio.NewReader(s.stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		*password = strings.TrimRight(line, "\r\n")
	}
	if err := s.actions.Login(ctx, strings.TrimSpace(*username), *password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	s.logger.Info("logged in", zap.String("username", *username))
	fmt.Fprintln(s.stdout, "logged in")
	return nil
}

func cmdLogout(ctx context.Context, s *session, _ []string) error {
	if err := s.actions.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	s.loggedOut = true
	fmt.Fprintln(s.stdout, "logged out")
	return nil
}

func cmdList(ctx context.Context, s *session, _ []string) error {
	if err := s.actions.Bootstrap(ctx); err != nil {
		return err
	}
	store := s.actions.Store()
	rows := make([][]string, 0)
	for _, r := range feedback.VisibleFeedbackRequests(store) {
		name := "Unknown essay"
		if essay, ok := feedback.EssayForFeedbackRequest(store, r.PK); ok {
			name = essay.Name
		}
		rows = append(rows, []string{
			strconv.Itoa(r.PK),
			name,
			r.Deadline.Local().Format("Jan 2, 2006"),
			feedback.ClaimStateFor(store, r.PK).String(),
		})
	}
	if len(rows) == 0 {
		fmt.Fprintln(s.stdout, "no open feedback requests")
		return nil
	}
	fmt.Fprintln(s.stdout, renderTable([]string{"ID", "Essay", "Deadline", "State"}, rows))
	return nil
}

func cmdClaim(ctx context.Context, s *session, args []string) error {
	id, err := intArg(args, "claim ID")
	if err != nil {
		return err
	}
	if err := s.actions.Bootstrap(ctx); err != nil {
		return err
	}
	if current, ok := s.actions.Store().InProgressRequestID(); ok && current != id {
		return fmt.Errorf("request %d is already in progress; submit it first", current)
	}
	response, err := s.actions.ClaimFeedbackRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to start feedback response: %w", err)
	}
	fmt.Fprintf(s.stdout, "started response %d for request %d\n", response.PK, id)
	return nil
}

func cmdShow(ctx context.Context, s *session, _ []string) error {
	if err := s.actions.Bootstrap(ctx); err != nil {
		return err
	}
	store := s.actions.Store()
	requestID, ok := store.InProgressRequestID()
	if !ok {
		return feedbacksync.ErrNoResponseInProgress
	}
	essay, _ := feedback.EssayForFeedbackRequest(store, requestID)
	response := store.InProgressResponse()
	title := lipgloss.NewStyle().Bold(true)
	fmt.Fprintln(s.stdout, title.Render(essay.Name))
	fmt.Fprintln(s.stdout, essay.Content)
	fmt.Fprintln(s.stdout)
	fmt.Fprintln(s.stdout, title.Render(fmt.Sprintf("Your Feedback (response %d)", response.PK)))
	fmt.Fprintln(s.stdout, response.Content)
	return nil
}

func cmdDraft(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("draft", flag.ContinueOnError)
	fs.SetOutput(s.stderr)
	content := fs.String("content", "", "draft text")
	file := fs.String("file", "", "read the draft from this file")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	text := *content
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		text = string(data)
	}
	if err := s.actions.LoadInProgressResponse(ctx); err != nil {
		return err
	}
	if err := s.actions.SaveInProgressDraft(ctx, text); err != nil {
		return fmt.Errorf("something went wrong while saving feedback: %w", err)
	}
	fmt.Fprintln(s.stdout, "draft saved")
	return nil
}

func cmdWatch(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(s.stderr)
	file := fs.String("file", "", "draft file to watch")
	quiet := fs.Duration("quiet", s.cfg.DraftQuietPeriod, "how long writes must settle before saving")
	if err := fs.Parse(args); err != nil || *file == "" {
		return errUsage
	}
	if err := s.actions.LoadInProgressResponse(ctx); err != nil {
		return err
	}
	current := s.actions.Store().InProgressResponse()
	if current.PK == 0 || current.Finished {
		return feedbacksync.ErrNoResponseInProgress
	}
	if _, err := os.Stat(*file); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(*file, []byte(current.Content), 0o600); err != nil {
			return err
		}
	}
	watcher, err := feedbacksync.NewDraftWatcher(s.actions, feedbacksync.DraftWatcherOptions{
		Path:        *file,
		QuietPeriod: *quiet,
		Logger:      s.logger,
		OnSaved: func(content string) {
			fmt.Fprintf(s.stdout, "%s draft saved (%d bytes)\n", time.Now().Format("15:04:05"), len(content))
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.stdout, "watching %s for response %d; ctrl+c to stop\n", *file, current.PK)
	err = watcher.Run(ctx)
	if errors.Is(err, feedbacksync.ErrResponseFinished) {
		fmt.Fprintln(s.stdout, "response was submitted; stopping")
		return nil
	}
	return err
}

func cmdSubmit(ctx context.Context, s *session, _ []string) error {
	if err := s.actions.LoadInProgressResponse(ctx); err != nil {
		return err
	}
	response := s.actions.Store().InProgressResponse()
	if response.PK == 0 || response.Finished {
		return feedbacksync.ErrNoResponseInProgress
	}
	if err := s.actions.SubmitFeedback(ctx, response.PK); err != nil {
		return fmt.Errorf("something went wrong while submitting feedback: %w", err)
	}
	fmt.Fprintf(s.stdout, "submitted response %d\n", response.PK)
	return nil
}

func cmdFinished(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("finished", flag.ContinueOnError)
	fs.SetOutput(s.stderr)
	search := fs.String("search", "", "filter by essay name or feedback text")
	sortBy := fs.String("sort", "completed", "sort by name or completed")
	desc := fs.Bool("desc", false, "sort descending")
	page := fs.Int("page", 1, "page number")
	pageSize := fs.Int("page-size", s.cfg.PageSize, "rows per page")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	field := feedback.SortByCompletedOn
	switch strings.ToLower(*sortBy) {
	case "completed", "date":
	case "name":
		field = feedback.SortByEssayName
	default:
		return fmt.Errorf("unknown sort %q (name or completed)", *sortBy)
	}

	if err := s.actions.LoadFinishedResponses(ctx); err != nil {
		return fmt.Errorf("failed to load finished feedback requests: %w", err)
	}
	rows := feedback.FilterSummaries(feedback.FinishedFeedbackSummaries(s.actions.Store()), *search)
	rows = feedback.SortSummaries(rows, field, *desc)
	p := feedback.PageSummaries(rows, *page, *pageSize)
	if p.TotalRows == 0 {
		fmt.Fprintln(s.stdout, "no finished feedback")
		return nil
	}
	out := make([][]string, 0, len(p.Rows))
	for _, r := range p.Rows {
		name := r.EssayName
		if name == "" {
			name = "Unknown essay"
		}
		completed := "-"
		if !r.CompletedOn.IsZero() {
			completed = r.CompletedOn.Local().Format("January 2, 2006 03:04 PM")
		}
		out = append(out, []string{strconv.Itoa(r.ResponseID), name, completed})
	}
	fmt.Fprintln(s.stdout, renderTable([]string{"Response", "Essay Name", "Completed"}, out))
	fmt.Fprintf(s.stdout, "page %d/%d, %d rows\n", p.Number, p.TotalPages, p.TotalRows)
	return nil
}

func cmdHistory(ctx context.Context, s *session, args []string) error {
	var id int
	if len(args) > 0 {
		parsed, err := intArg(args, "history [RESPONSE_ID]")
		if err != nil {
			return err
		}
		id = parsed
	} else {
		if err := s.actions.LoadInProgressResponse(ctx); err != nil {
			return err
		}
		id = s.actions.Store().InProgressResponse().PK
		if id == 0 {
			return feedbacksync.ErrNoResponseInProgress
		}
	}
	if err := s.actions.LoadResponseHistory(ctx, id); err != nil {
		return err
	}
	history := feedback.ResponseHistory(s.actions.Store())
	if len(history) == 0 {
		fmt.Fprintln(s.stdout, "no previous revisions")
		return nil
	}
	rows := make([][]string, 0, len(history))
	for _, h := range history {
		name := "Unknown essay"
		if h.Found {
			name = h.Essay.Name
		}
		rows = append(rows, []string{strconv.Itoa(h.Request.PK), name, h.Request.Deadline.Local().Format("Jan 2, 2006")})
	}
	fmt.Fprintln(s.stdout, renderTable([]string{"Request", "Essay", "Deadline"}, rows))
	return nil
}

func cmdPoll(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("poll", flag.ContinueOnError)
	fs.SetOutput(s.stderr)
	interval := fs.Duration("interval", durationEnv("FEEDBACKDESK_POLL_INTERVAL", time.Minute), "poll interval")
	intervalJitter := fs.Float64("interval-jitter", floatEnv("FEEDBACKDESK_POLL_JITTER", 0.2), "poll interval jitter ratio (0.0-1.0)")
	once := fs.Bool("once", false, "poll once and exit")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *interval <= 0 {
		*interval = time.Minute
	}
	*intervalJitter = clampJitterRatio(*intervalJitter)

	seen := make(map[int]struct{})
	poll := func() {
		pollCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
		if err := s.actions.Bootstrap(pollCtx); err != nil {
			s.logger.Warn("poll failed", zap.Error(err))
			return
		}
		store := s.actions.Store()
		visible := feedback.VisibleFeedbackRequests(store)
		for _, r := range visible {
			if _, ok := seen[r.PK]; ok {
				continue
			}
			seen[r.PK] = struct{}{}
			name := "Unknown essay"
			if essay, ok := feedback.EssayForFeedbackRequest(store, r.PK); ok {
				name = essay.Name
			}
			fmt.Fprintf(s.stdout, "request %d: %s (due %s)\n", r.PK, name, r.Deadline.Local().Format("Jan 2, 2006"))
		}
		if s.backend != nil {
			if err := s.backend.Save(store.Snapshot()); err != nil {
				s.logger.Warn("state save failed", zap.Error(err))
			}
		}
		s.logger.Debug("poll completed", zap.Int("visible", len(visible)))
	}

	poll()
	if *once {
		return nil
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("poll stopping", zap.Error(ctx.Err()))
			return nil
		case <-timer.C:
			poll()
			timer.Reset(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
		}
	}
}

func cmdTUI(ctx context.Context, s *session, _ []string) error {
	app := tui.NewApp(s.actions,
		tui.WithContext(ctx),
		tui.WithRequestTimeout(s.cfg.RequestTimeout),
		tui.WithQuietPeriod(s.cfg.DraftQuietPeriod),
		tui.WithPageSize(s.cfg.PageSize),
		tui.WithLogger(s.logger),
	)
	program := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	s.loggedOut = app.LoggedOut
	return nil
}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		String()
}

func intArg(args []string, what string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: feedbackdesk %s", errUsage, what)
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", errUsage, args[0])
	}
	return id, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	return min(1, max(0, value))
}

// jitteredIntervalWithSample spreads base by ±jitterRatio; sample in [0,1]
// picks the point in that window.
func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	sample = min(1, max(0, sample))
	factor := 1 + ((sample*2)-1)*jitterRatio
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
