// Package main is the entry point for the autostep language server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autostep/autostep-lsp/internal/logging"
	"github.com/autostep/autostep-lsp/internal/lsp"
	"github.com/autostep/autostep-lsp/internal/server"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	flagLogFile    string
	flagLogLevel   string
	flagLogMaxSize int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "autostep-lsp",
	Short:         "Language server for autostep test and interaction files",
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	SilenceErrors: true,
	SilenceUsage:  true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the language server protocol over stdin and stdout",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagLogFile, "log-file", "", "write logs to a rotating file instead of stderr")
	serveCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug|info|warn|error")
	serveCmd.Flags().IntVar(&flagLogMaxSize, "log-max-size", logging.DefaultMaxSizeMB, "rotate the log file at this size in megabytes")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := logging.New(logging.Config{
		Level:     flagLogLevel,
		File:      flagLogFile,
		MaxSizeMB: flagLogMaxSize,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn := lsp.NewConn(os.Stdin, os.Stdout, os.Stdin, lsp.WithConnLogger(logger.Logger))
	srv := server.New(conn,
		server.WithLogger(logger.Logger),
		server.WithVersion(version),
	)

	// A signal closes stdin so the read loop ends.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	logger.Info("serving", "version", version, "pid", os.Getpid())
	err = srv.Serve(ctx)
	switch {
	case errors.Is(err, server.ErrExitWithoutShutdown):
		return err
	case err != nil && !errors.Is(err, context.Canceled):
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("exiting")
	return nil
}
