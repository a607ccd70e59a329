package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bryanchriswhite/envbridge/internal/envstate"
	"github.com/spf13/cobra"
)

var attributesCmd = &cobra.Command{
	Use:   "attributes",
	Short: "List publishable attributes",
	Long:  `List every attribute envbridge can publish, in publish order.`,
	RunE:  runAttributes,
}

var attributesFormat string

func init() {
	rootCmd.AddCommand(attributesCmd)

	attributesCmd.Flags().StringVarP(&attributesFormat, "format", "f", "list", "output format (list or json)")
}

func runAttributes(cmd *cobra.Command, args []string) error {
	keys := envstate.AttributeKeys()

	switch attributesFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(keys)
	case "list":
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use 'list' or 'json')", attributesFormat)
	}
}
