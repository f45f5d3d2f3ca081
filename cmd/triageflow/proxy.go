package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/carein/triageflow/internal/api"
)

// proxyOptions holds flags for the proxy command.
type proxyOptions struct {
	*rootOptions
	addr     string
	upstream string
}

func newProxyCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &proxyOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Serve the API proxy",
		Long: `Serve the inbound API proxy.

Requests under /api/proxy are relayed to the upstream evaluation API with the
prefix stripped; /api/identity/register is relayed to /identity/register.
/healthz and /metrics are served locally.

Example:
  triageflow proxy --addr :8080 --upstream https://api.example.org/api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides $PROXY_ADDR)")
	cmd.Flags().StringVar(&opts.upstream, "upstream", "", "upstream API base URL (overrides $API_BASE_URL)")

	return cmd
}

func runProxy(cmd *cobra.Command, opts *proxyOptions) error {
	cfg := opts.cfg
	addr := cfg.Proxy.Addr
	if cmd.Flags().Changed("addr") {
		addr = opts.addr
	}
	upstream := cfg.Proxy.Upstream
	if cmd.Flags().Changed("upstream") {
		upstream = opts.upstream
	}

	srv, err := api.NewServer(
		api.WithAddr(addr),
		api.WithUpstream(upstream),
		api.WithInsecureTLS(cfg.API.AllowSelfSignedCerts),
		api.WithTimeout(cfg.API.Timeout),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
