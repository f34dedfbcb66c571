package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/comitanigiacomo/walme-bot/internal/adapters/credentials"
	"github.com/comitanigiacomo/walme-bot/internal/adapters/repository"
	"github.com/comitanigiacomo/walme-bot/internal/config"
)

const Version = "1.2.0"

const banner = `
 __      __        .__                    __________        __
/  \    /  \_____  |  |   _____   ____    \______   \ _____/  |_
\   \/\/   /\__  \ |  |  /     \_/ __ \    |    |  _//  _ \   __\
 \        /  / __ \|  |_|  Y Y  \  ___/    |    |   (  <_> )  |
  \__/\  /  (____  /____/__|_|  /\___  >   |______  /\____/|__|
       \/        \/           \/     \/           \/            v%s
`

type options struct {
	configPath  string
	tokensPath  string
	proxiesPath string
	statePath   string
	statsPath   string
	once        bool
}

// Execute runs the CLI with the given arguments and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "walme-bot",
		Short:         "Completes waitlist tasks and daily check-ins for a list of accounts",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintf(stdout, banner, Version)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts, stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(ctx, opts.once)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigFile, "Path to the JSON config file")
	cmd.PersistentFlags().StringVar(&opts.statePath, "state", repository.DefaultStateFile, "Path to the completed tasks state file")
	cmd.Flags().StringVar(&opts.tokensPath, "tokens", credentials.DefaultTokensFile, "File with one bearer token per line")
	cmd.Flags().StringVar(&opts.proxiesPath, "proxies", credentials.DefaultProxiesFile, "File with one proxy per line")
	cmd.Flags().StringVar(&opts.statsPath, "stats", repository.DefaultStatsFile, "Where run statistics are written")
	cmd.Flags().BoolVar(&opts.once, "once", false, "Run a single pass and exit")

	cmd.AddCommand(newStatsCmd(stdout, opts))

	return cmd
}

func newStatsCmd(stdout io.Writer, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print statistics computed from the stored state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := loadStats(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}
