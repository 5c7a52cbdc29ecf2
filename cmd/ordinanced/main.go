// Command ordinanced runs the Ordinance daemon: a long-running
// privileged process that hosts user-supplied plugins monitoring and
// protecting the host.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"ordinance/internal/core"
	"ordinance/internal/home"
	"ordinance/internal/logging"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "ordinanced",
		Short: "Host plugins that monitor and protect this machine",
	}
	rootCmd.PersistentFlags().String("home", "", "home directory (default: platform config dir)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the daemon and read commands from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			homeFlag, _ := cmd.Flags().GetString("home")
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return run(ctx, logger, homeFlag)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveHome(homeFlag string) (home.Dir, error) {
	if homeFlag != "" {
		return home.New(homeFlag), nil
	}
	return home.Default()
}

func run(ctx context.Context, logger *slog.Logger, homeFlag string) error {
	hd, err := resolveHome(homeFlag)
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	logger.Info("home directory", "path", hd.Root())

	c := core.New(hd, logger)
	if err := c.Boot(ctx); err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	logger.Info("ordinanced started")

	runCtx, stop := context.WithCancel(ctx)
	go commandLoop(runCtx, stop, logger, c, os.Stdin)

	<-runCtx.Done()
	logger.Info("shutting down")
	return c.Stop(context.Background())
}

// commandLoop implements the line-oriented stdin command loop: scan a
// line, trim, dispatch to Core's command(string) grammar, print the
// result. A "stop" command or a closed stdin both initiate shutdown by
// calling stop, which unblocks run's wait on ctx.Done().
func commandLoop(ctx context.Context, stop context.CancelFunc, logger *slog.Logger, c *core.Core, stdin *os.File) {
	defer stop()
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		token, out := c.Command(ctx, scanner.Text())
		if out != "" {
			fmt.Println(out)
		}
		if token == -1 {
			logger.Info("stop command received")
			return
		}
	}
}
