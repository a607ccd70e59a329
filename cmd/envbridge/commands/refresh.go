package commands

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bryanchriswhite/envbridge/internal/envstate"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [KEY...]",
	Short: "Publish the environment state to InputActions",
	Long: `Ask the running daemon to publish the given attributes, or every
attribute when none are given. This is the same as InputActions emitting
environmentStateRequested.`,
	Example: `  # Publish everything
  envbridge refresh

  # Publish only the pointer position
  envbridge refresh pointer_position_global`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	// Reject typos before reaching the daemon
	known := make(map[string]bool)
	for _, key := range envstate.AttributeKeys() {
		known[key] = true
	}
	for _, key := range args {
		if !known[key] {
			return fmt.Errorf("%w: %q (see: envbridge attributes)", envstate.ErrUnknownAttribute, key)
		}
	}

	body := map[string][]string{"keys": args}
	if _, err := apiRequest(http.MethodPost, "/api/state/refresh", nil, body); err != nil {
		return err
	}

	if len(args) == 0 {
		color.Green("✓ Refresh queued for all attributes")
	} else {
		color.Green("✓ Refresh queued for %s", strings.Join(args, ", "))
	}
	return nil
}
