package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCommand(rootOpts *rootOptions) *cobra.Command {
	var withReferral bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the local transcript",
		Long: `Forget the local transcript so the next flow starts from the server's
current evaluation, or a new one. Credentials are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "reset", func(ctx context.Context, a *app) error {
				if err := a.transcript.Clear(ctx, "cli:reset"); err != nil {
					return fmt.Errorf("failed to clear transcript: %w", err)
				}
				if withReferral {
					if err := a.referrals.Clear(ctx); err != nil {
						return fmt.Errorf("failed to clear referral code: %w", err)
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Transcription locale effacee.")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&withReferral, "referral", false, "also forget the pending referral code")

	return cmd
}
