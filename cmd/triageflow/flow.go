package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/carein/triageflow/internal/events"
	"github.com/carein/triageflow/internal/flow"
	"github.com/carein/triageflow/internal/models"
)

const flowHelp = `Commandes :
  /edit        modifier la derniere reponse
  /file <path> joindre un fichier a la question en cours
  /resume      reprendre l'evaluation liee au lien d'invitation
  /retry       relancer la derniere requete echouee
  /quit        quitter (la session reprendra au prochain lancement)`

// flowOptions holds flags for the flow command.
type flowOptions struct {
	*rootOptions
	referralCode string
}

func newFlowCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &flowOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Run the conversational evaluation",
		Long: `Run the conversational evaluation in the terminal.

An interrupted session resumes from the local transcript. Type /help during
the conversation for the available commands.

Example:
  triageflow flow
  triageflow flow --ref ABC123
  triageflow flow --type thematic --bloc-keys sleep,stress`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlow(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.referralCode, "ref", "", "referral code to attach to a new evaluation")

	return cmd
}

func runFlow(cmd *cobra.Command, opts *flowOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(opts.cfg, "flow")
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.referralCode != "" {
		if err := a.referrals.Save(ctx, opts.referralCode); err != nil {
			return fmt.Errorf("failed to save referral code: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	unsubscribe := a.bus.Subscribe(func(e events.Event) {
		switch e.Kind {
		case events.KindNetworkError:
			fmt.Fprintln(out, renderNotice("Connexion au service impossible. /retry pour relancer."))
		case events.KindUnauthenticated:
			fmt.Fprintln(out, renderNotice("Session expiree. Connectez-vous avec `triageflow auth login`."))
		}
	})
	defer unsubscribe()

	engine := flow.NewEngine(a.gateway, a.transcript, flow.Settings{
		Type:     opts.cfg.Evaluation.Type,
		BlocKeys: opts.cfg.Evaluation.BlocKeys,
		Context:  opts.cfg.Evaluation.Context,
	}, flow.WithIdentity(a.identity), flow.WithReferralSource(a.referrals))
	defer engine.Close()

	s := &flowSession{
		app:     a,
		engine:  engine,
		out:     out,
		view:    newTranscriptView(out),
		changes: make(chan struct{}, 1),
	}
	defer engine.OnChange(s.notify)()

	engine.Mount(ctx)
	return s.loop(ctx, readLines(cmd.InOrStdin()))
}

// flowSession drives one terminal conversation.
type flowSession struct {
	app     *app
	engine  *flow.Engine
	out     io.Writer
	view    *transcriptView
	changes chan struct{}
}

func (s *flowSession) notify(flow.State) {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *flowSession) loop(ctx context.Context, lines <-chan string) error {
	for {
		state := s.waitSettled(ctx)
		s.view.Render(state)
		if ctx.Err() != nil {
			return nil
		}
		s.printStatus(state)
		fmt.Fprint(s.out, "> ")

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(s.out)
			return nil
		}
		if s.handle(ctx, strings.TrimSpace(line)) {
			return nil
		}
	}
}

// waitSettled blocks until no reply is pending.
func (s *flowSession) waitSettled(ctx context.Context) flow.State {
	for {
		state := s.engine.Snapshot()
		if state.Referral != nil || (state.Hydrated && !state.IsTyping) {
			return state
		}
		select {
		case <-ctx.Done():
			return state
		case <-s.changes:
		}
	}
}

func (s *flowSession) printStatus(state flow.State) {
	switch {
	case state.Referral != nil:
		fmt.Fprintln(s.out, renderReferral(state.Referral))
	case state.IsComplete:
		fmt.Fprintln(s.out, renderCompletion())
	case state.CurrentQuestion() != nil:
		fmt.Fprint(s.out, renderPrompt(*state.CurrentQuestion(), state.Progress()))
	case state.EditableAnswerIndex() >= 0:
		fmt.Fprintln(s.out, renderNotice("/edit pour modifier la derniere reponse et reessayer."))
	default:
		fmt.Fprintln(s.out, renderNotice("Aucune question disponible. /retry pour relancer, /quit pour quitter."))
	}
}

// handle processes one input line and reports whether the session should end.
func (s *flowSession) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		s.answer(ctx, line)
		return false
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(s.out, flowHelp)
	case "/edit":
		s.edit(ctx)
	case "/resume":
		if !s.engine.ResumeReferral(ctx) {
			fmt.Fprintln(s.out, renderNotice("Aucune evaluation a reprendre."))
		}
	case "/retry":
		s.retry(ctx)
	case "/file":
		s.attach(ctx, arg)
	default:
		fmt.Fprintln(s.out, renderNotice("Commande inconnue. /help pour la liste."))
	}
	return false
}

func (s *flowSession) answer(ctx context.Context, line string) {
	state := s.engine.Snapshot()
	q := state.CurrentQuestion()
	if q == nil {
		fmt.Fprintln(s.out, renderNotice("Aucune question en attente."))
		return
	}
	s.engine.Submit(ctx, parseInput(*q, line))
}

func (s *flowSession) edit(ctx context.Context) {
	index := s.engine.Snapshot().EditableAnswerIndex()
	if index < 0 || !s.engine.Edit(ctx, index) {
		fmt.Fprintln(s.out, renderNotice("Rien a modifier."))
	}
}

// retry replays the last request, then remounts so a reply the server recorded
// meanwhile is picked up.
func (s *flowSession) retry(ctx context.Context) {
	_, err := s.app.client.RetryLast(ctx)
	switch {
	case errors.Is(err, events.ErrNotReplayable):
		fmt.Fprintln(s.out, renderNotice("Aucune requete a relancer."))
		return
	case err != nil:
		slog.Warn("Flow retry failed", "error", err)
		fmt.Fprintln(s.out, renderNotice("La requete a encore echoue."))
		return
	}
	s.engine.Mount(ctx)
}

func (s *flowSession) attach(ctx context.Context, path string) {
	if path == "" {
		fmt.Fprintln(s.out, renderNotice("Usage : /file <chemin>"))
		return
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(s.out, renderNotice("Fichier illisible : "+err.Error()))
		return
	}
	defer f.Close()
	s.engine.Submit(ctx, flow.FileInput(filepath.Base(path), f))
}

// readLines feeds r line by line until EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// parseInput turns a typed line into an answer for q. Option questions accept
// the option number, its value or its label.
func parseInput(q models.Question, line string) flow.Input {
	line = strings.TrimSpace(line)
	switch {
	case q.Type == models.QuestionTypeSelectMultiple:
		var values []string
		for _, part := range strings.Split(line, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, resolveOption(q.Options, part))
			}
		}
		return flow.ListInput(values...)
	case len(q.Options) > 0:
		return flow.TextInput(resolveOption(q.Options, line))
	case q.Type == models.QuestionTypeBoolean:
		return flow.TextInput(resolveBoolean(line))
	default:
		return flow.TextInput(line)
	}
}

func resolveOption(options models.QuestionOptions, input string) string {
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(options) {
		return options[n-1].Value
	}
	for _, opt := range options {
		if strings.EqualFold(opt.Value, input) || strings.EqualFold(opt.Label, input) {
			return opt.Value
		}
	}
	return input
}

func resolveBoolean(input string) string {
	switch strings.ToLower(input) {
	case "oui", "o", "yes", "y":
		return "yes"
	case "non", "n", "no":
		return "no"
	}
	return input
}
