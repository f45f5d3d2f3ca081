package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/carein/triageflow/internal/client"
	"github.com/carein/triageflow/internal/identity"
	"github.com/carein/triageflow/internal/models"
	"github.com/carein/triageflow/internal/security"
)

func newGateCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect and unlock the security gate",
		Long: `Inspect and unlock the security gate that protects health data on
this device.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the security gate for this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "gate", func(ctx context.Context, a *app) error {
				gate, err := a.identity.SecurityStatus(ctx)
				if err != nil {
					slog.Warn("Gate status unavailable, showing cached gate", "error", err)
					gate = a.cache.Gate(ctx)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderGate(gate, a.cache.IsSecretSet(ctx, gate), time.Now()))
				return nil
			})
		},
	})

	var method, pin string
	unlock := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the gate with a PIN, an agent or biometrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "gate", func(ctx context.Context, a *app) error {
				secret := pin
				if method == identity.UnlockPIN && secret == "" {
					secret = promptLine(cmd, "PIN : ")
				}
				gate, err := a.identity.Unlock(ctx, method, secret)
				if err != nil {
					return userError(err)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderGate(gate, a.cache.IsSecretSet(ctx, gate), time.Now()))
				return nil
			})
		},
	}
	unlock.Flags().StringVar(&method, "method", identity.UnlockPIN, "unlock method (pin|agent|biometric)")
	unlock.Flags().StringVar(&pin, "pin", "", "PIN, prompted when omitted")
	cmd.AddCommand(unlock)

	var newPIN string
	setSecret := &cobra.Command{
		Use:   "set-secret",
		Short: "Set the PIN that unlocks the gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "gate", func(ctx context.Context, a *app) error {
				secret := newPIN
				if secret == "" {
					secret = promptLine(cmd, "Nouveau PIN : ")
				}
				if _, err := a.identity.SetSecret(ctx, secret); err != nil {
					return userError(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Code PIN enregistre.")
				return nil
			})
		},
	}
	setSecret.Flags().StringVar(&newPIN, "pin", "", "new PIN, prompted when omitted")
	cmd.AddCommand(setSecret)

	cmd.AddCommand(&cobra.Command{
		Use:   "panic-lock",
		Short: "Lock the gate immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "gate", func(ctx context.Context, a *app) error {
				gate, err := a.identity.PanicLock(ctx)
				if err != nil {
					return userError(err)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderGate(gate, a.cache.IsSecretSet(ctx, gate), time.Now()))
				return nil
			})
		},
	})

	return cmd
}

func newAuthCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Sign in, register or sign out",
	}

	var phone, secret string
	login := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a phone number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "auth", func(ctx context.Context, a *app) error {
				sess, err := a.identity.Login(ctx, identity.LoginRequest{
					CredentialType: identity.CredentialPhone,
					Identifier:     phone,
					Secret:         secret,
				})
				if err != nil {
					return userError(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connecte (identite %s).\n", sess.Identity.ID)
				return nil
			})
		},
	}
	login.Flags().StringVar(&phone, "phone", "", "phone number")
	login.Flags().StringVar(&secret, "secret", "", "PIN or password, when the account has one")
	_ = login.MarkFlagRequired("phone")
	cmd.AddCommand(login)

	var regPhone, organization string
	register := &cobra.Command{
		Use:   "register",
		Short: "Create an identity for a phone number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "auth", func(ctx context.Context, a *app) error {
				sess, err := a.identity.Register(ctx, identity.RegisterRequest{
					Kind:           identity.DefaultKind,
					CredentialType: identity.CredentialPhone,
					Identifier:     regPhone,
					Role:           identity.DefaultRole,
					OrganizationID: organization,
				})
				if err != nil {
					return userError(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Compte cree (identite %s).\n", sess.Identity.ID)
				return nil
			})
		},
	}
	register.Flags().StringVar(&regPhone, "phone", "", "phone number")
	register.Flags().StringVar(&organization, "organization", "", "organization id")
	_ = register.MarkFlagRequired("phone")
	_ = register.MarkFlagRequired("organization")
	cmd.AddCommand(register)

	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear local credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "auth", func(ctx context.Context, a *app) error {
				if err := a.identity.Logout(ctx); err != nil {
					slog.Warn("Auth logout: remote sign-out failed, local credentials cleared", "error", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deconnecte.")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "auth", func(ctx context.Context, a *app) error {
				me, err := a.identity.CurrentIdentity(ctx)
				if err != nil {
					return userError(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s)\n", me.ID, me.Kind, me.Status)
				return nil
			})
		},
	})

	return cmd
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, name string, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(opts.cfg, name)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

// userError rewrites API errors into their user-facing message.
func userError(err error) error {
	if apiErr, ok := client.AsAPIError(err); ok {
		return errors.New(client.FormatAPIError(apiErr))
	}
	return err
}

func promptLine(cmd *cobra.Command, label string) string {
	fmt.Fprint(cmd.OutOrStdout(), label)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	return strings.TrimSpace(line)
}

func renderGate(gate *models.SecurityGate, secretSet bool, now time.Time) string {
	var b strings.Builder
	state := "inconnu"
	if gate != nil && gate.State != "" {
		state = gate.State
	}
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("Etat :"), state)
	fmt.Fprintf(&b, "Verrouille : %s\n", yesNo(security.IsGateLocked(gate, now)))
	fmt.Fprintf(&b, "Deverrouillage requis : %s\n", yesNo(security.IsGateRequired(gate, now)))
	fmt.Fprintf(&b, "Code PIN defini : %s\n", yesNo(secretSet))
	if gate != nil && gate.LockedUntil != "" {
		fmt.Fprintf(&b, "Verrouille jusqu'a : %s\n", gate.LockedUntil)
	}
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "oui"
	}
	return "non"
}
