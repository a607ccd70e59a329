package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state [KEY...]",
	Short: "Show the current environment state",
	Long: `Show the environment state as the running daemon sees it.

Reading state does not publish anything to InputActions.`,
	Example: `  # Show every attribute
  envbridge state

  # Show selected attributes
  envbridge state active_window_class window_under_pointer_title

  # Print the raw JSON snapshot
  envbridge state --format json`,
	RunE: runState,
}

var stateFormat string

func init() {
	rootCmd.AddCommand(stateCmd)

	stateCmd.Flags().StringVarP(&stateFormat, "format", "f", "table", "output format (table or json)")
}

type stateEntry struct {
	key   string
	value json.RawMessage
}

func runState(cmd *cobra.Command, args []string) error {
	query := url.Values{}
	if len(args) > 0 {
		query.Set("keys", strings.Join(args, ","))
	}

	data, err := apiRequest(http.MethodGet, "/api/state", query, nil)
	if err != nil {
		return err
	}

	switch stateFormat {
	case "json":
		var out bytes.Buffer
		if err := json.Indent(&out, data, "", "  "); err != nil {
			return err
		}
		fmt.Println(out.String())
		return nil
	case "table":
		entries, err := decodeOrdered(data)
		if err != nil {
			return err
		}
		return printStateTable(entries)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", stateFormat)
	}
}

// decodeOrdered reads a JSON object keeping its key order
func decodeOrdered(data []byte) ([]stateEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("unexpected state payload: %s", data)
	}

	var entries []stateEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		entries = append(entries, stateEntry{key: key, value: value})
	}
	return entries, nil
}

// formatValue colors a JSON value by kind
func formatValue(raw json.RawMessage) string {
	text := string(raw)
	switch {
	case text == "null":
		return color.HiBlackString("null")
	case text == "true":
		return color.GreenString(text)
	case text == "false":
		return color.RedString(text)
	case strings.HasPrefix(text, `"`):
		return color.YellowString(text)
	default:
		return color.CyanString(text)
	}
}

func printStateTable(entries []stateEntry) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(w, "%s\t%s\n", bold("ATTRIBUTE"), bold("VALUE"))
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.key, formatValue(e.value))
	}
	return nil
}
