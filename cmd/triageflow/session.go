package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/carein/triageflow/internal/models"
	"github.com/carein/triageflow/internal/session"
)

var errNoStoredSession = errors.New("no evaluation session stored on this device")

func newSessionCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or close the stored evaluation session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stored session and its server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "session", func(ctx context.Context, a *app) error {
				stored, ids, err := storedSession(ctx, a)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Session :"), orDash(ids.Internal))
				fmt.Fprintf(out, "Identifiant public : %s\n", orDash(ids.Public))
				fmt.Fprintf(out, "Reponses : %d\n", len(stored.Answers))
				fmt.Fprintf(out, "Terminee : %s\n", yesNo(stored.IsComplete))

				internal := session.PickInternal(ids)
				if internal == "" {
					return nil
				}
				resp, err := a.gateway.GetEvaluation(ctx, internal)
				if err != nil {
					slog.Warn("Session show: server status unavailable", "session_id", internal, "error", err)
					fmt.Fprintln(out, dimStyle.Render("Statut serveur indisponible."))
					return nil
				}
				fmt.Fprintf(out, "Statut serveur : %s\n", orDash(resp.SessionStatus))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "complete",
		Short: "Close the stored session on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, "session", func(ctx context.Context, a *app) error {
				stored, ids, err := storedSession(ctx, a)
				if err != nil {
					return err
				}
				internal := session.PickInternal(ids)
				if internal == "" {
					return errNoStoredSession
				}
				resp, err := a.gateway.CompleteEvaluation(ctx, internal, "")
				if err != nil {
					return userError(err)
				}

				now := time.Now()
				stored.IsComplete = true
				stored.CompletionMessage = resp.MessageOr(models.DefaultCompletionPrompt)
				stored.Messages = append(stored.Messages, models.NewChatMessage(models.RoleBot, stored.CompletionMessage, -1, now))
				if _, err := a.transcript.Save(ctx, *stored); err != nil {
					return fmt.Errorf("failed to save transcript: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), stored.CompletionMessage)
				return nil
			})
		},
	})

	return cmd
}

func storedSession(ctx context.Context, a *app) (*models.StoredFlowState, session.IDs, error) {
	stored := a.transcript.Load(ctx)
	if stored == nil {
		return nil, session.IDs{}, errNoStoredSession
	}
	ids := session.FromStored(stored)
	if ids.IsZero() {
		return nil, session.IDs{}, errNoStoredSession
	}
	return stored, ids, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
