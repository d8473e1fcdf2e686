package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blesync/internal/central"
	"golang.org/x/term"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Find the first peripheral advertising a service",
		Long: `Run a single scan pass for --service and print the address and name of
the first peripheral that advertises it. Nothing is connected.`,
		Example: `  blesync scan --service 6e400001-b5a3-f393-e0a9-e50e24dcca9e --scan-retries 10`,
		Args:    cobra.NoArgs,
		RunE:    runScan,
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := configureLogger(cmd, cfg)

	identity, err := central.NewServiceIdentity(cfg.ServiceUUID)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	transport, err := transportFactory(cfg.Backend, logger)
	if err != nil {
		return err
	}
	c, err := central.New(identity, transport, central.Options{Config: cfg.Central, Logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer c.Shutdown(context.WithoutCancel(ctx))

	var progress *ProgressPrinter
	if f, ok := cmd.ErrOrStderr().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		progress = NewProgressPrinter(f, fmt.Sprintf("Looking for %s", identity.Service()), "scanning")
		progress.Start()
	}

	p, err := c.Discover(ctx)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	name := p.Name()
	if name == "" {
		name = "(no name)"
	}
	bold := color.New(color.Bold)
	if _, ok := cmd.OutOrStdout().(*os.File); !ok {
		bold.DisableColor()
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", bold.Sprint(p.Address()), name)
	return err
}
