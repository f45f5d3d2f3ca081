package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var errNoReferralCode = errors.New("no referral code stored")

func newReferralCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "referral",
		Short: "Manage the pending referral code",
		Long: `Manage the referral code attached to the next evaluation started on
this device, and share referral links.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "save <code>",
		Short: "Store a referral code for the next evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "referral", func(ctx context.Context, a *app) error {
				if err := a.referrals.Save(ctx, args[0]); err != nil {
					return err
				}
				return printReferral(ctx, cmd, a)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "capture <link>",
		Short: "Store the code carried by a referral link (?ref= or ?referral=)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := url.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid referral link: %w", err)
			}
			return withApp(cmd, rootOpts, "referral", func(ctx context.Context, a *app) error {
				code, err := a.referrals.Capture(ctx, link.Query())
				if err != nil {
					return err
				}
				if code == "" {
					return errors.New("link carries no referral code")
				}
				return printReferral(ctx, cmd, a)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stored referral code and its link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "referral", func(ctx context.Context, a *app) error {
				return printReferral(ctx, cmd, a)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the stored referral code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "referral", func(ctx context.Context, a *app) error {
				if err := a.referrals.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Code d'invitation supprime.")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "qr [code]",
		Short: "Render a referral link as a terminal QR code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "referral", func(ctx context.Context, a *app) error {
				code := a.referrals.Code(ctx)
				if len(args) == 1 {
					code = args[0]
				}
				if code == "" {
					return errNoReferralCode
				}
				link := a.links().WriteQR(cmd.OutOrStdout(), code)
				fmt.Fprintln(cmd.OutOrStdout(), link)
				return nil
			})
		},
	})

	return cmd
}

func printReferral(ctx context.Context, cmd *cobra.Command, a *app) error {
	code := a.referrals.Code(ctx)
	if code == "" {
		return errNoReferralCode
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n%s\n", titleStyle.Render("Code :"), code, a.links().URL(code))
	return nil
}
