package cli

import (
	"fmt"

	"github.com/samber/do"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold-go/internal/version"
)

func newVersionCommand(i *do.Injector) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			info, err := version.GetInfo()
			if err != nil {
				return fmt.Errorf("failed to read build info: %w", err)
			}

			return printJSON(info)
		},
	}
}
