package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/viralforge/referral-platform/internal/app/bootstrap"
	"github.com/viralforge/referral-platform/internal/application"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "refctl",
		Short:         "Operational tasks for the referral platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/default.yaml", "path to the YAML config file")

	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newBackfillCmd(opts))
	root.AddCommand(newCreatePartnerCmd(opts))
	return root
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening the runtime applies migrations for the postgres driver.
			runtime, err := bootstrap.NewRuntime(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer runtime.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newBackfillCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "backfill-rewards",
		Short: "Create the missing rewards of converted referrals",
		Long: "Scans converted referrals whose campaign pays a reward and creates the reward rows " +
			"that were never written. Runs once unless --force is given.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runtime, err := bootstrap.NewRuntime(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer runtime.Close()

			result, err := runtime.Service().BackfillRewards(cmd.Context(), force)
			if err != nil {
				return fmt.Errorf("backfill rewards: %w", err)
			}
			if result.AlreadyApplied {
				fmt.Fprintln(cmd.OutOrStdout(), "backfill already applied, use --force to run again")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d conversions, created %d rewards\n", result.Scanned, result.Created)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even if the backfill was already applied")
	return cmd
}

func newCreatePartnerCmd(opts *rootOptions) *cobra.Command {
	var in application.CreatePartnerInput
	cmd := &cobra.Command{
		Use:   "create-partner",
		Short: "Create a partner account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runtime, err := bootstrap.NewRuntime(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer runtime.Close()

			partner, err := runtime.Service().CreatePartner(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("create partner: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "partner %s created with role %s\n", partner.PartnerID, partner.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "partner login email")
	cmd.Flags().StringVar(&in.Password, "password", "", "partner password")
	cmd.Flags().StringVar(&in.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&in.Role, "role", "PARTNER", "PARTNER or ADMIN")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
