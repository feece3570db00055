package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chive/pluginrt/pkg/plugin"
)

var validateCmd = &cobra.Command{
	Use:   "validate <plugin.json>...",
	Short: "Validate plugin manifests",
	Long: `Validate one or more plugin manifests against the manifest schema.
Every violated constraint is reported with the JSON pointer of the offending field.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	invalid := 0

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read manifest: %w", err)
		}

		manifest, err := plugin.Validate(data)
		if err == nil {
			fmt.Fprintf(out, "%s: ok (%s@%s)\n", path, manifest.ID, manifest.Version)
			continue
		}

		invalid++
		var verr *plugin.ValidationError
		if !errors.As(err, &verr) {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "%s: invalid\n", path)
		for _, msg := range verr.Errors {
			fmt.Fprintf(out, "  - %s\n", msg)
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d manifests invalid", invalid, len(args))
	}
	return nil
}
