// Package cli implements the keyfold command tree. Commands resolve their
// dependencies from a do.Injector wired in the root command's
// PersistentPreRunE, so construction order never matters and tests can
// override any provider.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold-go/internal/config"
	"github.com/keyfold/keyfold-go/internal/logging"
	"github.com/keyfold/keyfold-go/vault"
)

var (
	configPath string
	logger     zerolog.Logger
)

func newRootCmd(i *do.Injector) *cobra.Command {
	return &cobra.Command{
		Use:   "keyfold",
		Short: "Client for envelope-encrypted object stores",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			// Source order determines precedence. The last source loaded will
			// override any previous values.
			var sources []*config.Source
			if configPath != "" {
				sources = append(sources, config.NewFileSource(configPath))
			}
			sources = append(sources,
				config.NewEnvVarSource(),
				config.NewPFlagSource(cmd.Flags()),
			)

			config.Provide(i, sources...)
			logging.Provide(i)
			Provide(i)

			var err error
			logger, err = do.Invoke[zerolog.Logger](i)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			return nil
		},
	}
}

func Execute() {
	i := do.New()
	rootCmd := newRootCmd(i)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config-path", "c", "", "Path to the config file, JSON or YAML.")
	rootCmd.PersistentFlags().StringP("logging.level", "l", "", "The logging level, e.g. 'debug', 'info', 'error', etc.")
	rootCmd.PersistentFlags().BoolP("logging.pretty", "p", false, "Use pretty logging instead of JSON logging.")

	rootCmd.AddCommand(
		newVersionCommand(i),
		newServersCommand(i),
		newAccountCommand(i),
		newKeysCommand(i),
		newObjectsCommand(i),
		newPublishCommand(i),
		newUnpublishCommand(i),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger.GetLevel() == zerolog.NoLevel {
			// NoLevel indicates that the logger is uninitialized. In this case
			// we'll use our fallback logger.
			logging.Fatal(err, "command failed")
		} else {
			logger.Fatal().
				Err(err).
				Msg("command failed")
		}
	}
}

// startManager invokes the object manager and loads both rosters.
func startManager(ctx context.Context, i *do.Injector) (*vault.ObjectManager, error) {
	manager, err := do.Invoke[*vault.ObjectManager](i)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object manager: %w", err)
	}
	if err := manager.Start(ctx); err != nil {
		return nil, err
	}
	return manager, nil
}

// printJSON writes the canonical command output: indented JSON on stdout.
// Logs go to stderr, so output stays safe to pipe.
func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	fmt.Println(string(raw))

	return nil
}

// parseRawJSON validates a flag value is well-formed JSON before it is
// embedded in a request.
func parseRawJSON(flag, value string) (json.RawMessage, error) {
	if !json.Valid([]byte(value)) {
		return nil, fmt.Errorf("--%s must be valid JSON", flag)
	}
	return json.RawMessage(value), nil
}
