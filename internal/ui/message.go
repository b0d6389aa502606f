package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/stemx/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgProgressUpdate MsgKind = iota
	MsgRunComplete
	MsgCancelled
	MsgDownloadComplete
	MsgBrowserOpened
)

type runResult struct {
	result *tasks.RunResult
	err    error
}

type downloadResult struct {
	result *tasks.DownloadResult
	err    error
}

type browserResult struct {
	url string
	err error
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// runCompleteMsg is the constructor for [MsgRunComplete]
func runCompleteMsg(result *tasks.RunResult, err error) Msg {
	return Msg{kind: MsgRunComplete, data: runResult{result, err}}
}

// cancelledMsg is the constructor for [MsgCancelled]. err is the remote cancel outcome.
func cancelledMsg(err error) Msg {
	return Msg{kind: MsgCancelled, data: err}
}

// downloadCompleteMsg is the constructor for [MsgDownloadComplete]
func downloadCompleteMsg(result *tasks.DownloadResult, err error) Msg {
	return Msg{kind: MsgDownloadComplete, data: downloadResult{result, err}}
}

// browserOpenedMsg is the constructor for [MsgBrowserOpened]
func browserOpenedMsg(url string, err error) Msg {
	return Msg{kind: MsgBrowserOpened, data: browserResult{url, err}}
}
