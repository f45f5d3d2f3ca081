// Command triageflow runs the guided health evaluation in the terminal and
// serves the inbound API proxy.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/carein/triageflow/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// rootOptions holds the persistent flags and the configuration built from them.
type rootOptions struct {
	configPath string
	debug      bool
	stateDir   string
	dsn        string
	apiBaseURL string
	evalType   string
	blocKeys   string
	evalCtx    string

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	return buildRootCommand(&rootOptions{})
}

func buildRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triageflow",
		Short: "Guided health triage evaluation client",
		Long: `triageflow walks through the conversational triage evaluation against
the evaluation API, keeping the transcript in a local store so an
interrupted session resumes where it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file (default ./triageflow.yaml when present)")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging (overrides $TRIAGE_FLOW_DEBUG)")
	flags.StringVar(&opts.stateDir, "state-dir", "", "state directory for the local store and lock (overrides $TRIAGE_STATE_DIR)")
	flags.StringVar(&opts.dsn, "dsn", "", "store DSN: *.db for SQLite, postgres:// for Postgres (overrides $TRIAGE_STORE_DSN)")
	flags.StringVar(&opts.apiBaseURL, "api-base-url", "", "evaluation API base URL (overrides $TRIAGE_API_BASE_URL)")
	flags.StringVar(&opts.evalType, "type", "", "evaluation type started for new sessions (overrides $TRIAGE_EVALUATION_TYPE)")
	flags.StringVar(&opts.blocKeys, "bloc-keys", "", "bloc keys for a thematic evaluation, JSON array or comma list")
	flags.StringVar(&opts.evalCtx, "context", "", "evaluation context JSON object for a thematic evaluation")

	cmd.AddCommand(newFlowCommand(opts))
	cmd.AddCommand(newProxyCommand(opts))
	cmd.AddCommand(newGateCommand(opts))
	cmd.AddCommand(newAuthCommand(opts))
	cmd.AddCommand(newReferralCommand(opts))
	cmd.AddCommand(newSessionCommand(opts))
	cmd.AddCommand(newResetCommand(opts))

	return cmd
}

// load builds the configuration: file and environment first, then any flag
// the user actually set.
func (o *rootOptions) load(cmd *cobra.Command) error {
	initializeLogger(o.debug)

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = o.debug
	}
	if flags.Changed("state-dir") {
		cfg.Store.StateDir = o.stateDir
	}
	if flags.Changed("dsn") {
		cfg.Store.DSN = o.dsn
	}
	if flags.Changed("api-base-url") {
		cfg.API.BaseURL = o.apiBaseURL
	}
	if flags.Changed("type") {
		cfg.Evaluation.Type = o.evalType
	}
	if flags.Changed("bloc-keys") {
		cfg.SetBlocKeys(o.blocKeys)
	}
	if flags.Changed("context") {
		cfg.SetContext(o.evalCtx)
	}
	cfg.Validate()

	initializeLogger(cfg.Debug)
	seen := make(map[string]bool, len(cfg.Warnings))
	for _, w := range cfg.Warnings {
		if seen[w] {
			continue
		}
		seen[w] = true
		slog.Warn("Config warning", "detail", w)
	}
	slog.Debug("Final configuration",
		"api_base_url", cfg.API.BaseURL,
		"state_dir", cfg.Store.StateDir,
		"dsn_set", cfg.Store.DSN != "",
		"evaluation_type", cfg.Evaluation.Type)

	o.cfg = cfg
	return nil
}

// initializeLogger installs the stderr text logger; stdout is reserved for
// the conversation.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
