package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/flanksource/commons/logger"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/weddinglabs/cardpress/pipeline"
)

const progressBarWidth = 40

// renderProgress consumes a run's update stream until it closes. On a
// terminal it draws an in-place progress bar; otherwise it logs phase
// transitions and coarse progress steps.
func renderProgress(updates <-chan pipeline.Update) {
	interactive := term.IsTerminal(int(os.Stderr.Fd()))
	colored := termenv.NewOutput(os.Stderr).Profile != termenv.Ascii

	if !interactive {
		lastLogged := -10
		var lastPhase pipeline.Phase
		for u := range updates {
			if u.Phase != lastPhase {
				logger.Infof("phase: %s", u.Phase)
				lastPhase = u.Phase
			}
			if u.Progress >= lastLogged+10 {
				logger.Infof("progress: %d%%", u.Progress)
				lastLogged = u.Progress
			}
		}
		return
	}

	barStyle := lipgloss.NewStyle()
	phaseStyle := lipgloss.NewStyle()
	if colored {
		barStyle = barStyle.Foreground(lipgloss.Color("10"))
		phaseStyle = phaseStyle.Foreground(lipgloss.Color("12"))
	}

	for u := range updates {
		filled := u.Progress * progressBarWidth / 100
		bar := barStyle.Render(strings.Repeat("█", filled)) + strings.Repeat("░", progressBarWidth-filled)
		fmt.Fprintf(os.Stderr, "\r%s [%s] %3d%%  ", phaseStyle.Render(string(u.Phase)), bar, u.Progress)
		if u.Phase.Terminal() {
			fmt.Fprintln(os.Stderr)
		}
	}
}
