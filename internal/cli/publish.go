package cli

import (
	"github.com/samber/do"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold-go/api"
	"github.com/keyfold/keyfold-go/client"
)

const defaultJobType = "publish"

type publishOutput struct {
	Object *api.Object `json:"object"`
	Job    *api.Job    `json:"job"`
}

func newPublishCommand(i *do.Injector) *cobra.Command {
	var (
		jobType string
		wait    bool
	)

	cmd := &cobra.Command{
		Use:   "publish <object-id>",
		Short: "Hand a copy of an object to the publish party",
		Long: "Publish decrypts the object, re-encrypts it under a fresh key wrapped for " +
			"the configured publish party, stores the copy beneath the source object and " +
			"submits a job for downstream processing.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := startManager(cmd.Context(), i)
			if err != nil {
				return err
			}

			object, job, err := manager.PublishObject(cmd.Context(), jobType, args[0])
			if err != nil {
				return err
			}

			if wait {
				storeClient, err := do.Invoke[client.Client](i)
				if err != nil {
					return err
				}
				if job, err = storeClient.WaitForJob(cmd.Context(), jobType, args[0]); err != nil {
					return err
				}
			}

			return printJSON(publishOutput{Object: object, Job: job})
		},
	}

	cmd.Flags().StringVar(&jobType, "job-type", defaultJobType, "Job type the downstream processor consumes.")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the job reaches a terminal status.")

	return cmd
}

func newUnpublishCommand(i *do.Injector) *cobra.Command {
	var jobType string

	cmd := &cobra.Command{
		Use:   "unpublish <object-id>",
		Short: "Cancel an object's in-flight publish job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := startManager(cmd.Context(), i)
			if err != nil {
				return err
			}

			job, err := manager.UnpublishObject(cmd.Context(), jobType, args[0])
			if err != nil {
				return err
			}
			if job == nil {
				logger.Info().Str("object_id", args[0]).Msg("no job to cancel")
				return nil
			}

			return printJSON(job)
		},
	}

	cmd.Flags().StringVar(&jobType, "job-type", defaultJobType, "Job type the publish job was submitted under.")

	return cmd
}
