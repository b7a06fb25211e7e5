package cli

import (
	"github.com/samber/do"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold-go/client"
)

func newServersCommand(i *do.Injector) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Inspect the account's trust party roster",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the servers objects can be encrypted for",
		RunE: func(cmd *cobra.Command, args []string) error {
			storeClient, err := do.Invoke[client.Client](i)
			if err != nil {
				return err
			}

			servers, err := storeClient.GetServers(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(servers)
		},
	})

	return cmd
}
