package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-declare/internal/invoice"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const envPrefix = "INVOICE_DECLARE"

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env", "error", err)
	}

	root := newRootCommand()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix(envPrefix))
	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp), errors.Is(err, ff.ErrNoExec):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(selected(root)))
	default:
		fmt.Fprintf(os.Stderr, "error: %s\n", invoice.Message(err))
		slog.Debug("Command failed", "error", err)
		os.Exit(1)
	}
}

func selected(root *ff.Command) *ff.Command {
	if sel := root.GetSelected(); sel != nil {
		return sel
	}
	return root
}

func newRootCommand() *ff.Command {
	fs := ff.NewFlagSet("invoice-declare")
	client := registerClientFlags(fs)

	root := &ff.Command{
		Name:      "invoice-declare",
		Usage:     "invoice-declare [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "declare invoices and review them",
		Flags:     fs,
	}
	root.Subcommands = []*ff.Command{
		newServeCommand(fs, client),
		newGrantCommand(fs),
		newLoginCommand(fs, client),
		newLogoutCommand(fs, client),
		newWhoamiCommand(fs, client),
		newSubmitCommand(fs, client),
		newListCommand(fs, client),
		newReviewCommand(fs, client, "approve", invoice.StatusApproved),
		newReviewCommand(fs, client, "reject", invoice.StatusRejected),
		newDeleteCommand(fs, client),
		newDownloadCommand(fs, client),
	}
	return root
}
