package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	FileView ViewState = iota
	OperationView
	ParamsView
	RunView
	ResultView
)

// Options carries the configured limits and defaults for a session.
type Options struct {
	MaxBytes          int64
	AllowedExtensions []string
	PollInterval      time.Duration
	Download          tasks.DownloadOpts
}

// Model represents the TUI application state.
type Model struct {
	ctx    context.Context
	view   ViewState
	engine *tasks.JobEngine
	client *services.Client
	opts   Options
	width  int
	height int

	pathInput  textinput.Model
	paramInput textinput.Model
	operations list.Model
	stems      list.Model
	bar        progress.Model
	spinner    spinner.Model

	path      string
	operation operationItem
	request   models.TransformRequest

	progressChan chan tasks.ProgressUpdate
	doneChan     chan Msg
	cancelRun    context.CancelFunc
	progress     tasks.ProgressUpdate
	taskID       string
	cancelling   bool

	result *tasks.RunResult
	notice string
	err    error
	help   help.Model
	keys   keyMap
}

// NewModel creates a new TUI model with the provided dependencies.
func NewModel(ctx context.Context, engine *tasks.JobEngine, client *services.Client, opts Options) *Model {
	path := textinput.New()
	path.Placeholder = "path/to/song.mp3"
	path.Prompt = "File: "
	path.CharLimit = 4096
	path.Focus()

	param := textinput.New()
	param.CharLimit = 16

	operations := list.New(defaultOperations(), list.NewDefaultDelegate(), 0, 0)
	operations.Title = "Choose an operation"
	operations.SetShowStatusBar(false)
	operations.SetFilteringEnabled(false)

	stems := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	stems.SetShowStatusBar(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		ctx:        ctx,
		view:       FileView,
		engine:     engine,
		client:     client,
		opts:       opts,
		pathInput:  path,
		paramInput: param,
		operations: operations,
		stems:      stems,
		bar:        progress.New(progress.WithDefaultGradient(), progress.WithWidth(48)),
		spinner:    sp,
		help:       help.New(),
		keys:       newKeyMap(),
	}
}

// Init starts the cursor blink of the path input.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.operations.SetSize(msg.Width-4, msg.Height-8)
		m.stems.SetSize(msg.Width-4, msg.Height-12)
		m.bar.Width = min(max(msg.Width-8, 10), 72)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case FileView:
			return m.handleFileKeys(msg)
		case OperationView:
			return m.handleOperationKeys(msg)
		case ParamsView:
			return m.handleParamsKeys(msg)
		case RunView:
			return m.handleRunKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case spinner.TickMsg:
		if m.view != RunView {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateInputs(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgProgressUpdate:
		update := msg.data.(tasks.ProgressUpdate)
		m.progress = update
		if handle, ok := update.Data.(*models.JobHandle); ok {
			m.taskID = handle.TaskID
		}
		return m, m.waitForProgress()

	case MsgRunComplete:
		res := msg.data.(runResult)
		m.result, m.err = res.result, res.err
		if m.result != nil && m.result.Job != nil {
			m.taskID = m.result.Job.TaskID
		}
		m.progressChan, m.doneChan = nil, nil
		if m.cancelRun != nil {
			m.cancelRun()
			m.cancelRun = nil
		}
		m.cancelling = false
		m.view = ResultView

		if m.err == nil && m.result != nil && m.result.Tracks != nil {
			m.stems = list.New(stemItems(m.result.Tracks, m.stemURL), list.NewDefaultDelegate(), 0, 0)
			m.stems.Title = fmt.Sprintf("Outputs of task %s", m.result.Tracks.TaskID)
			m.stems.SetShowStatusBar(false)
			m.stems.SetSize(m.width-4, m.height-12)
		}
		return m, nil

	case MsgCancelled:
		if err, _ := msg.data.(error); err != nil {
			m.notice = "Remote cancel failed: " + shared.UserMessage(err)
		}
		// The session may not have been registered when the DELETE went out.
		if m.cancelRun != nil {
			m.cancelRun()
		}
		return m, nil

	case MsgDownloadComplete:
		res := msg.data.(downloadResult)
		switch {
		case res.err != nil:
			m.notice = "Download failed: " + shared.UserMessage(res.err)
		case res.result.Failed > 0:
			m.notice = fmt.Sprintf("Saved %d of %d stems to %s (%d failed)",
				res.result.Successful, res.result.Total, res.result.OutputDirectory, res.result.Failed)
		default:
			m.notice = fmt.Sprintf("Saved %d stems to %s", res.result.Successful, res.result.OutputDirectory)
		}
		return m, nil

	case MsgBrowserOpened:
		res := msg.data.(browserResult)
		if res.err != nil {
			m.notice = fmt.Sprintf("Could not open %s: %v", res.url, res.err)
		} else {
			m.notice = "Opened " + res.url
		}
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case FileView:
		return m.renderFile()
	case OperationView:
		return m.renderOperations()
	case ParamsView:
		return m.renderParams()
	case RunView:
		return m.renderRun()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleFileKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "enter":
		path := strings.TrimSpace(m.pathInput.Value())
		if err := m.checkFile(path); err != nil {
			m.err = err
			return m, nil
		}
		m.path, m.err = path, nil
		m.view = OperationView
		return m, nil
	}

	var cmd tea.Cmd
	m.pathInput, cmd = m.pathInput.Update(msg)
	return m, cmd
}

// checkFile runs the client-side upload pre-filter on path.
func (m *Model) checkFile(path string) error {
	if path == "" {
		return shared.NewValidationError("file", "enter the path of an audio file")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	if info.IsDir() {
		return shared.NewValidationError("file", "%s is a directory", path)
	}
	return services.ValidateUploadCandidate(filepath.Base(path), info.Size(), m.opts.MaxBytes, m.opts.AllowedExtensions)
}

func (m *Model) handleOperationKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.view = FileView
		return m, nil
	case "enter":
		op, ok := m.operations.SelectedItem().(operationItem)
		if !ok {
			return m, nil
		}
		m.operation, m.err = op, nil
		if op.prompt != "" {
			m.paramInput.Reset()
			m.paramInput.Placeholder = op.prompt
			m.paramInput.Focus()
			m.view = ParamsView
			return m, textinput.Blink
		}
		return m, m.submit("")
	}

	var cmd tea.Cmd
	m.operations, cmd = m.operations.Update(msg)
	return m, cmd
}

func (m *Model) handleParamsKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.err = nil
		m.view = OperationView
		return m, nil
	case "enter":
		return m, m.submit(m.paramInput.Value())
	}

	var cmd tea.Cmd
	m.paramInput, cmd = m.paramInput.Update(msg)
	return m, cmd
}

// submit builds the request for the selected operation and starts a run. Invalid input keeps the current view.
func (m *Model) submit(input string) tea.Cmd {
	req, err := m.operation.build(input)
	if err != nil {
		m.err = err
		return nil
	}
	m.request = req
	return m.startRun()
}

func (m *Model) handleRunKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.cancelRun != nil {
			m.cancelRun()
		}
		return m, tea.Quit
	case "c":
		if m.cancelling {
			return m, nil
		}
		m.cancelling = true
		m.notice = "Cancelling..."
		if m.taskID == "" {
			if m.cancelRun != nil {
				m.cancelRun()
			}
			return m, nil
		}
		return m, m.cancelTask(m.taskID)
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		m.reset()
		return m, textinput.Blink
	}

	if m.err != nil || m.result == nil || m.result.Tracks == nil {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.open):
		if item, ok := m.stems.SelectedItem().(stemItem); ok && item.url != "" {
			return m, openBrowser(item.url)
		}
		return m, nil
	case key.Matches(msg, m.keys.download):
		m.notice = "Downloading stems..."
		return m, m.downloadStems()
	}

	var cmd tea.Cmd
	m.stems, cmd = m.stems.Update(msg)
	return m, cmd
}

func (m *Model) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case FileView:
		m.pathInput, cmd = m.pathInput.Update(msg)
	case ParamsView:
		m.paramInput, cmd = m.paramInput.Update(msg)
	case OperationView:
		m.operations, cmd = m.operations.Update(msg)
	case ResultView:
		m.stems, cmd = m.stems.Update(msg)
	}
	return m, cmd
}

func (m *Model) reset() {
	m.view = FileView
	m.pathInput.Reset()
	m.pathInput.Focus()
	m.path = ""
	m.request = nil
	m.result = nil
	m.stems.SetItems(nil)
	m.taskID = ""
	m.progress = tasks.ProgressUpdate{}
	m.notice = ""
	m.err = nil
}

func (m *Model) stemURL(track models.StemTrack) string {
	if m.client == nil {
		return ""
	}
	return m.client.ProcessedURL(track.ResourceID)
}

// startRun uploads the selected file and processes it on a background goroutine.
//
// The engine reports through progressChan; the final outcome arrives on doneChan once
// progressChan is closed.
func (m *Model) startRun() tea.Cmd {
	src, err := services.OpenUploadSource(m.path)
	if err != nil {
		m.err = err
		return nil
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelRun = cancel
	m.view = RunView
	m.progress = tasks.ProgressUpdate{Message: "Starting..."}
	m.taskID, m.notice, m.err = "", "", nil

	progressChan := make(chan tasks.ProgressUpdate, 256)
	doneChan := make(chan Msg, 1)
	m.progressChan, m.doneChan = progressChan, doneChan

	engine, opts := m.engine, tasks.ProcessOpts{Request: m.request, PollInterval: m.opts.PollInterval}
	go func() {
		defer src.Close()
		result, err := engine.Run(ctx, progressChan, src, opts)
		close(progressChan)
		doneChan <- runCompleteMsg(result, err)
	}()

	return tea.Batch(m.waitForProgress(), m.spinner.Tick)
}

func (m *Model) waitForProgress() tea.Cmd {
	progressChan, doneChan := m.progressChan, m.doneChan
	if progressChan == nil {
		return nil
	}
	return func() tea.Msg {
		if update, ok := <-progressChan; ok {
			return progressUpdateMsg(update)
		}
		return <-doneChan
	}
}

// cancelTask cancels taskID through the orchestrator, or directly on the backend when the
// run has submitted the task but not started tracking it yet.
func (m *Model) cancelTask(taskID string) tea.Cmd {
	orchestrator, client := m.engine.Orchestrator(), m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, tracked := orchestrator.Session(taskID); !tracked && client != nil {
			return cancelledMsg(client.CancelTask(ctx, taskID))
		}
		return cancelledMsg(orchestrator.Cancel(ctx, taskID))
	}
}

func (m *Model) downloadStems() tea.Cmd {
	engine, ctx, set, opts := m.engine, m.ctx, m.result.Tracks, m.opts.Download
	opts.URLFor = m.stemURL
	return func() tea.Msg {
		result, err := engine.DownloadStems(ctx, nil, set, opts)
		return downloadCompleteMsg(result, err)
	}
}

func openBrowser(url string) tea.Cmd {
	return func() tea.Msg {
		return browserOpenedMsg(url, shared.OpenBrowser(url))
	}
}

func (m *Model) renderFile() string {
	title := styles.title.Render("stemx")
	body := m.pathInput.View()
	if m.err != nil {
		body += "\n\n" + styles.err.Render(shared.UserMessage(m.err))
	}
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.back, m.keys.exit})
	return fmt.Sprintf("%s\n%s\n\n%s", title, body, helpView)
}

func (m *Model) renderOperations() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.back, m.keys.quit})
	return fmt.Sprintf("%s\n%s\n\n%s", styles.help.Render(m.path), m.operations.View(), helpView)
}

func (m *Model) renderParams() string {
	title := styles.title.Render(m.operation.title)
	body := m.paramInput.View()
	if m.err != nil {
		body += "\n\n" + styles.err.Render(shared.UserMessage(m.err))
	}
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.back, m.keys.exit})
	return fmt.Sprintf("%s\n%s\n%s\n\n%s", title, styles.help.Render(m.operation.desc), body, helpView)
}

func (m *Model) renderRun() string {
	title := styles.title.Render(fmt.Sprintf("%s: %s", m.operation.title, filepath.Base(m.path)))

	var phase string
	switch m.progress.Phase {
	case tasks.Upload:
		phase = "Uploading"
	case tasks.Submit:
		phase = "Submitting"
	case tasks.Process:
		phase = "Processing"
	case tasks.Collect:
		phase = "Collecting outputs"
	default:
		phase = "Working"
	}
	if m.taskID != "" {
		phase += styles.help.Render(" (task " + m.taskID + ")")
	}

	view := fmt.Sprintf("%s\n%s %s\n\n%s\n%s", title, m.spinner.View(), phase, m.bar.ViewAs(m.progress.Fraction()), m.progress.Message)
	if m.notice != "" {
		view += "\n\n" + styles.warn.Render(m.notice)
	}

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.cancel, m.keys.exit})
	return fmt.Sprintf("%s\n\n%s", view, helpView)
}

func (m *Model) renderResult() string {
	restart := m.help.ShortHelpView([]key.Binding{m.keys.restart, m.keys.quit})

	if m.err != nil {
		if errors.Is(m.err, shared.ErrTrackingStopped) || errors.Is(m.err, context.Canceled) {
			msg := styles.warn.Render("Cancelled")
			if m.notice != "" && m.notice != "Cancelling..." {
				msg += "\n" + styles.err.Render(m.notice)
			}
			return fmt.Sprintf("%s\n\n%s", msg, restart)
		}
		return fmt.Sprintf("%s\n%s\n\n%s", styles.err.Render("✗ Failed"), shared.UserMessage(m.err), restart)
	}

	if m.result == nil || m.result.Tracks == nil {
		return styles.err.Render("No result available") + "\n\n" + restart
	}

	title := styles.ok.Render(fmt.Sprintf("✓ %s complete", m.operation.title))
	var info string
	if f := m.result.File; f != nil {
		info = styles.help.Render(fmt.Sprintf("%s • %s • %s", f.Filename, shared.FormatBytes(f.FileSizeBytes), f.ID))
	}

	view := fmt.Sprintf("%s\n%s\n\n%s", title, info, m.stems.View())
	if m.notice != "" {
		view += "\n" + styles.warn.Render(m.notice)
	}

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.open, m.keys.download, m.keys.restart, m.keys.quit})
	return fmt.Sprintf("%s\n\n%s", view, helpView)
}
