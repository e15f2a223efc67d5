package tui

import (
	"fmt"
	"slices"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Views with an interactive rendering.
const (
	ViewStats = "stats"
	ViewSkins = "skins"
)

var supported = []string{ViewStats, ViewSkins}

// Fetch reloads the data behind a view.
type Fetch func() (any, error)

// Run shows data in the interactive view until the user quits.
func Run(view string, data any) error {
	if !IsTUISupported(view) {
		return fmt.Errorf("TUI mode is not supported for %s", view)
	}
	return program(NewStatsModel(view, data))
}

// RunWatch is Run with data reloaded by fetch every interval and on the
// refresh key.
func RunWatch(view string, fetch Fetch, every time.Duration) error {
	if !IsTUISupported(view) {
		return fmt.Errorf("TUI mode is not supported for %s", view)
	}
	data, err := fetch()
	if err != nil {
		return err
	}
	m := NewStatsModel(view, data)
	m.fetch = fetch
	m.every = every
	return program(m)
}

func program(m StatsModel) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// IsTUISupported reports whether view has an interactive rendering.
func IsTUISupported(view string) bool {
	return slices.Contains(supported, view)
}

// SupportedTUIViews lists the views accepted by Run.
func SupportedTUIViews() []string {
	return slices.Clone(supported)
}
