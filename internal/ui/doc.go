// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI provides a multi-view workflow for processing a track:
//  1. [FileView] : Enter the path of a local audio file (checked against size and extension limits)
//  2. [OperationView] : Pick separation, transposition or tempo change
//  3. [ParamsView] : Enter semitones or a tempo factor when the operation needs one
//  4. [RunView] : Monitor upload and processing progress, cancel with c
//  5. [ResultView] : Browse the colored stem list, play a stem in the browser or download all
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the tasks.JobEngine, providing non-blocking status reporting during runs.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
