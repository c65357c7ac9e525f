package control

import (
	"fmt"
	"strings"
)

const defaultBarWidth = 40

// formatClock renders elapsed seconds as MM:SS, or HH:MM:SS once playback
// passes the hour mark.
func formatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// progressLine renders the textual progress bar with elapsed/total time.
func progressLine(pos, duration float64, width int) string {
	if width <= 0 {
		width = defaultBarWidth
	}

	filled := 0
	if duration > 0 {
		frac := pos / duration
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		filled = int(frac * float64(width))
	}
	bar := strings.Repeat("#", filled) + strings.Repeat("-", width-filled)

	if duration > 0 {
		return fmt.Sprintf("[%s] %s / %s", bar, formatClock(pos), formatClock(duration))
	}
	return fmt.Sprintf("[%s] %s", bar, formatClock(pos))
}
