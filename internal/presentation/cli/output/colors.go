package output

import (
	"os"

	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
)

// colorsEnabled caches the result of color support detection.
var colorsEnabled *bool

// IsColorSupported determines if color output should be enabled.
// It checks for NO_COLOR environment variable and terminal capability.
func IsColorSupported() bool {
	if colorsEnabled != nil {
		return *colorsEnabled
	}

	enabled := detectColorSupport()
	colorsEnabled = &enabled
	return enabled
}

// detectColorSupport checks environment variables and terminal capabilities.
func detectColorSupport() bool {
	// See https://no-color.org/
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return false
	}
	if _, exists := os.LookupEnv("FORCE_COLOR"); exists {
		return true
	}

	stat, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	if stat.Mode()&os.ModeCharDevice == 0 {
		return false
	}

	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// ResetColorDetection clears the cached color detection result.
func ResetColorDetection() {
	colorsEnabled = nil
}

// ConnectivityBadge renders the online state for status output.
func (f *Formatter) ConnectivityBadge(online bool) string {
	if online {
		return f.Colorize("● online", ColorGreen)
	}
	return f.Colorize("● offline", ColorYellow)
}

// QueueStatusText renders a queue item status.
func (f *Formatter) QueueStatusText(status offline.QueueStatus) string {
	switch status {
	case offline.StatusDead:
		return f.Colorize(string(status), ColorRed)
	default:
		return f.Colorize(string(status), ColorCyan)
	}
}

// PendingText renders a pending count, highlighted when work is waiting.
func (f *Formatter) PendingText(n int) string {
	if n == 0 {
		return f.Dim("0")
	}
	return f.Colorize(itoa(n), ColorYellow)
}
