package cli

import (
	"github.com/samber/do"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold-go/client"
)

func newAccountCommand(i *do.Injector) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect the account this client belongs to",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the account's server and store roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			storeClient, err := do.Invoke[client.Client](i)
			if err != nil {
				return err
			}

			account, err := storeClient.GetAccount(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(account)
		},
	})

	return cmd
}
