package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Running the root command is the same
// as "blesync run".
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blesync",
		Short: "Keep a BLE peripheral connected and stream its JSON notifications",
		Long: `blesync finds a Bluetooth Low Energy peripheral advertising a service,
connects to it, subscribes to one characteristic and decodes every
notification as JSON.

The link is supervised: when the adapter, the scan, the connection or the
notification stream fails, blesync waits for the reconnect backoff and starts
over. Decoded values go to the log, to stdout as JSON lines or pretty JSON,
and optionally to an MQTT broker.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		Args:    cobra.NoArgs,
		RunE:    runCentral,
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	root.SilenceErrors = true

	addCommonFlags(root)
	addRunFlags(root)

	root.AddCommand(newRunCmd())
	root.AddCommand(newScanCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
