package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/invoice-declare/internal/authz"
	"github.com/zombor/invoice-declare/internal/invoice"
	"github.com/zombor/invoice-declare/internal/normalize"
	"github.com/zombor/invoice-declare/internal/scanning"
)

func newSubmitCommand(parent *ff.FlagSet, flags *clientFlags) *ff.Command {
	fs := ff.NewFlagSet("submit").SetParent(parent)
	reason := fs.StringLong("reason", "", "Why the expense was made (required)")
	notes := fs.StringLong("notes", "", "Free-form notes")
	scan := registerScannerFlags(fs)

	return &ff.Command{
		Name:      "submit",
		Usage:     "invoice-declare submit --reason REASON [FLAGS] FILE...",
		ShortHelp: "declare an invoice from images and PDFs",
		LongHelp:  "Every file is converted to JPEG pages, one per image and one per PDF page, and uploaded in the order given.",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if strings.TrimSpace(*reason) == "" {
				return invoice.ErrReasonRequired
			}
			files, err := readFiles(args)
			if err != nil {
				return err
			}
			pages, err := normalize.NormalizeAll(files)
			if err != nil {
				return err
			}
			blobs := normalize.Blobs(pages)

			scanner, err := scan.open()
			if err != nil {
				return err
			}
			if scanner != nil {
				defer scanner.Close()
			}

			a := flags.open(ctx)
			rec, err := a.client.Submit(ctx, invoice.SubmitRequest{
				Reason: *reason,
				Notes:  scanning.Prefill(ctx, scanner, *notes, blobs),
				Blobs:  blobs,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Submitted %s with %d page(s). Status: %s\n", rec.ID, len(rec.ImagePaths), rec.Status)
			if rec.Notes != "" {
				fmt.Fprintf(a.out, "Notes: %s\n", rec.Notes)
			}
			return nil
		},
	}
}

func newListCommand(parent *ff.FlagSet, flags *clientFlags) *ff.Command {
	return &ff.Command{
		Name:      "list",
		Usage:     "invoice-declare list",
		ShortHelp: "list invoices, newest first",
		Flags:     ff.NewFlagSet("list").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			a := flags.open(ctx)
			records, err := a.client.List(ctx)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(a.out, "No invoices.")
				return nil
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tREASON\tBY\tPAGES\tACTIONS\tPREVIEW")
			for _, rec := range records {
				v := a.view(rec)
				preview := a.client.ThumbnailURL(rec)
				if v.Obscured && preview != "" {
					preview = "(obscured)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					rec.ID,
					rec.CreatedAt.Local().Format("2006-01-02 15:04"),
					rec.Status,
					rec.Reason,
					creator(rec),
					len(rec.ImagePaths),
					actions(v),
					preview,
				)
			}
			return tw.Flush()
		},
	}
}

func creator(rec *invoice.Record) string {
	if rec.CreatorName != "" {
		return rec.CreatorName
	}
	return rec.CreatorEmail
}

func actions(v authz.View) string {
	names := make([]string, 0, len(v.Actions))
	for _, a := range v.Actions {
		if a != authz.ActionView {
			names = append(names, string(a))
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

func newReviewCommand(parent *ff.FlagSet, flags *clientFlags, name string, status invoice.Status) *ff.Command {
	action := authz.ActionApprove
	if status == invoice.StatusRejected {
		action = authz.ActionReject
	}

	return &ff.Command{
		Name:      name,
		Usage:     fmt.Sprintf("invoice-declare %s ID", name),
		ShortHelp: fmt.Sprintf("mark an invoice %s (invoice admins only)", status),
		Flags:     ff.NewFlagSet(name).SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			id, err := oneArg(args, "invoice ID")
			if err != nil {
				return err
			}
			a := flags.open(ctx)
			if _, err := a.find(ctx, id, action); err != nil {
				return err
			}
			if err := a.client.UpdateStatus(ctx, id, status); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Invoice %s is now %s.\n", id, status)
			return nil
		},
	}
}

func newDeleteCommand(parent *ff.FlagSet, flags *clientFlags) *ff.Command {
	return &ff.Command{
		Name:      "delete",
		Usage:     "invoice-declare delete ID",
		ShortHelp: "delete one of your invoices",
		Flags:     ff.NewFlagSet("delete").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			id, err := oneArg(args, "invoice ID")
			if err != nil {
				return err
			}
			a := flags.open(ctx)
			if _, err := a.find(ctx, id, authz.ActionDelete); err != nil {
				return err
			}
			if err := a.client.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted %s.\n", id)
			return nil
		},
	}
}

func newDownloadCommand(parent *ff.FlagSet, flags *clientFlags) *ff.Command {
	fs := ff.NewFlagSet("download").SetParent(parent)
	format := fs.StringLong("format", "zip", "Archive format: 'zip' or 'pdf'")
	outDir := fs.StringLong("out", ".", "Directory to write the archive to")

	return &ff.Command{
		Name:      "download",
		Usage:     "invoice-declare download [FLAGS] ID",
		ShortHelp: "download every page of an invoice",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			id, err := oneArg(args, "invoice ID")
			if err != nil {
				return err
			}
			write := invoice.WriteZip
			ext := ".zip"
			switch *format {
			case "zip":
			case "pdf":
				write, ext = invoice.WritePDF, ".pdf"
			default:
				return fmt.Errorf("unknown format %q, expected zip or pdf", *format)
			}

			a := flags.open(ctx)
			rec, err := a.find(ctx, id, authz.ActionDownload)
			if err != nil {
				return err
			}
			pages, err := a.client.FetchPages(ctx, rec)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := write(&buf, pages); err != nil {
				return err
			}
			path := filepath.Join(*outDir, invoice.ArchiveName(rec.Reason, ext))
			if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			slog.Info("Downloaded invoice", "id", id, "pages", len(pages))
			fmt.Fprintf(a.out, "Wrote %s.\n", path)
			return nil
		},
	}
}
