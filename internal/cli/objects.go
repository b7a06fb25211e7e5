package cli

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/samber/do"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold-go/api"
	"github.com/keyfold/keyfold-go/internal/utils"
	"github.com/keyfold/keyfold-go/vault"
)

func newObjectsCommand(i *do.Injector) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "objects",
		Short: "Manage encrypted objects",
	}

	cmd.AddCommand(
		newObjectsGetCommand(i),
		newObjectsPutCommand(i),
		newObjectsPatchCommand(i),
		newObjectsDeleteCommand(i),
		newObjectsChildrenCommand(i),
	)

	return cmd
}

type decryptedObjectOutput struct {
	Object  *api.Object     `json:"object"`
	Payload json.RawMessage `json:"payload"`
}

func newObjectsGetCommand(i *do.Injector) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "get <object-id>",
		Short: "Fetch and decrypt an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := startManager(cmd.Context(), i)
			if err != nil {
				return err
			}

			decrypted, err := manager.DecryptObject(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if full {
				return printJSON(decryptedObjectOutput{
					Object:  decrypted.Object,
					Payload: decrypted.Payload,
				})
			}

			return printJSON(decrypted.Payload)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Include the object record alongside the payload.")

	return cmd
}

func newObjectsPutCommand(i *do.Injector) *cobra.Command {
	var (
		store       string
		payload     string
		payloadFile string
		keyID       string
		server      string
		parent      string
		metadata    string
	)

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Encrypt a payload and store it as a new object",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(i, payload, payloadFile)
			if err != nil {
				return err
			}
			if raw == nil {
				return errors.New("one of --payload or --payload-file is required")
			}

			manager, err := startManager(cmd.Context(), i)
			if err != nil {
				return err
			}

			params := vault.InsertObjectParams{
				Payload:         raw,
				Store:           store,
				KeyID:           keyID,
				Server:          server,
				RelatedObjectID: parent,
			}
			if metadata != "" {
				if params.Metadata, err = parseRawJSON("metadata", metadata); err != nil {
					return err
				}
			}

			object, err := manager.InsertObject(cmd.Context(), params)
			if err != nil {
				return err
			}

			return printJSON(object)
		},
	}

	cmd.Flags().StringVar(&store, "store", "", "Store the object belongs to.")
	cmd.Flags().StringVar(&payload, "payload", "", "Payload to encrypt, as a JSON document.")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Path to a JSON file holding the payload.")
	cmd.Flags().StringVar(&keyID, "key", "", "Encrypt under an existing key.")
	cmd.Flags().StringVar(&server, "server", "", "Mint a fresh key wrapped for this trust party.")
	cmd.Flags().StringVar(&parent, "parent", "", "Object id to parent the new object beneath. Defaults to the store's root.")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Metadata to attach, as a JSON document.")

	return cmd
}

func newObjectsPatchCommand(i *do.Injector) *cobra.Command {
	var (
		payload     string
		payloadFile string
		keyID       string
		server      string
		parent      string
		metadata    string
		fallbackKey string
	)

	cmd := &cobra.Command{
		Use:   "patch <object-id>",
		Short: "Update an object in place",
		Long: "Patching the payload, key or server re-encrypts the content; the object's " +
			"id is stable across patches. With the payload omitted the current content is " +
			"decrypted and re-encrypted under the newly resolved key.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(i, payload, payloadFile)
			if err != nil {
				return err
			}

			manager, err := startManager(cmd.Context(), i)
			if err != nil {
				return err
			}

			params := vault.PatchObjectParams{
				KeyID:         keyID,
				Server:        server,
				FallbackKeyID: fallbackKey,
			}
			if raw != nil {
				params.Payload = raw
			}
			if metadata != "" {
				meta, err := parseRawJSON("metadata", metadata)
				if err != nil {
					return err
				}
				params.Metadata = utils.PointerTo(meta)
			}
			if cmd.Flags().Changed("parent") {
				params.RelatedObjectID = utils.PointerTo(parent)
			}

			object, err := manager.PatchObject(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}

			return printJSON(object)
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "Replacement payload, as a JSON document.")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Path to a JSON file holding the replacement payload.")
	cmd.Flags().StringVar(&keyID, "key", "", "Re-encrypt the content under this key.")
	cmd.Flags().StringVar(&server, "server", "", "Re-encrypt the content under a fresh key wrapped for this trust party.")
	cmd.Flags().StringVar(&parent, "parent", "", "Reparent the object beneath this object id.")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Replacement metadata, as a JSON document.")
	cmd.Flags().StringVar(&fallbackKey, "fallback-key", "", "Key whose party gets a replacement key if the object's key record is gone.")

	return cmd
}

func newObjectsDeleteCommand(i *do.Injector) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <object-id>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := startManager(cmd.Context(), i)
			if err != nil {
				return err
			}

			if err := manager.DeleteObject(cmd.Context(), args[0]); err != nil {
				return err
			}

			logger.Info().Str("object_id", args[0]).Msg("deleted object")

			return nil
		},
	}
}

func newObjectsChildrenCommand(i *do.Injector) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "children <object-id>",
		Short: "List the objects parented beneath an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := startManager(cmd.Context(), i)
			if err != nil {
				return err
			}

			objects, err := manager.GetRelatedObjects(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(objects)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKEY\tSIZE\tUPDATED")
			for _, object := range objects {
				updated := ""
				if !object.UpdatedAt.IsZero() {
					updated = humanize.Time(object.UpdatedAt)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					object.ID,
					object.KeyID,
					humanize.Bytes(uint64(base64.StdEncoding.DecodedLen(len(object.Content)))),
					updated,
				)
			}

			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw object records as JSON.")

	return cmd
}

// readPayload resolves the payload flags; both empty yields nil without error
// so patch commands can leave the content untouched.
func readPayload(i *do.Injector, inline, path string) (json.RawMessage, error) {
	switch {
	case inline != "" && path != "":
		return nil, errors.New("--payload and --payload-file are mutually exclusive")

	case inline != "":
		return parseRawJSON("payload", inline)

	case path != "":
		fs, err := do.Invoke[afero.Fs](i)
		if err != nil {
			return nil, err
		}
		raw, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file: %w", err)
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("payload file %s is not valid JSON", path)
		}
		return json.RawMessage(raw), nil

	default:
		return nil, nil
	}
}
