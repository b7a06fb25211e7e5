package cli

import (
	"github.com/samber/do"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold-go/vault"
)

func newKeysCommand(i *do.Injector) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage wrapped key records",
	}

	cmd.AddCommand(
		newKeysGetCommand(i),
		newKeysCreateCommand(i),
		newKeysRotateCommand(i),
		newKeysDeleteCommand(i),
	)

	return cmd
}

func newKeysGetCommand(i *do.Injector) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key-id>",
		Short: "Fetch a key record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := startManager(cmd.Context(), i)
			if err != nil {
				return err
			}

			key, err := manager.GetKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return printJSON(key)
		},
	}
}

func newKeysCreateCommand(i *do.Injector) *cobra.Command {
	var (
		server   string
		metadata string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint a fresh key wrapped for a trust party",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := startManager(cmd.Context(), i)
			if err != nil {
				return err
			}

			params := vault.InsertKeyParams{}
			if metadata != "" {
				if params.Metadata, err = parseRawJSON("metadata", metadata); err != nil {
					return err
				}
			}

			key, err := manager.InsertKey(cmd.Context(), server, params)
			if err != nil {
				return err
			}

			return printJSON(key)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Trust party the key is wrapped for.")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Metadata to attach, as a JSON document.")
	_ = cmd.MarkFlagRequired("server")

	return cmd
}

func newKeysRotateCommand(i *do.Injector) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "rotate <key-id>",
		Short: "Re-wrap a key's material for another trust party",
		Long: "Rotate replaces the wrapped form of a key without changing its id or raw " +
			"material, so objects encrypted under it stay decryptable. To move an object " +
			"to a different key entirely, use 'objects patch --key'.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := startManager(cmd.Context(), i)
			if err != nil {
				return err
			}

			key, err := manager.PatchKey(cmd.Context(), args[0], vault.PatchKeyParams{Server: server})
			if err != nil {
				return err
			}

			return printJSON(key)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Trust party to re-wrap the key for.")
	_ = cmd.MarkFlagRequired("server")

	return cmd
}

func newKeysDeleteCommand(i *do.Injector) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete a key record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := startManager(cmd.Context(), i)
			if err != nil {
				return err
			}

			if err := manager.DeleteKey(cmd.Context(), args[0]); err != nil {
				return err
			}

			logger.Info().Str("key_id", args[0]).Msg("deleted key")

			return nil
		},
	}
}
