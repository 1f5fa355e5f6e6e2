package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v4"
	"github.com/skip2/go-qrcode"

	"github.com/zombor/invoice-declare/internal/authz"
	"github.com/zombor/invoice-declare/internal/invoice"
	"github.com/zombor/invoice-declare/internal/session"
)

// clientFlags locate the store and the cached session.
type clientFlags struct {
	url         *string
	key         *string
	sessionPath *string
}

func registerClientFlags(fs *ff.FlagSet) *clientFlags {
	return &clientFlags{
		url:         fs.StringLong("url", "http://localhost:8080", "Store base URL"),
		key:         fs.StringLong("key", "", "Store public key; clients send it as the apikey header and serve requires it from bearer clients"),
		sessionPath: fs.StringLong("session", session.DefaultCachePath(), "Session cache file"),
	}
}

// app is the signed-in client side of the tool.
type app struct {
	provider *session.Provider
	client   *invoice.Client
	policy   authz.Policy
	out      io.Writer
}

func (f *clientFlags) open(ctx context.Context) *app {
	provider := session.NewProvider(session.NewRemoteAuth(*f.url, *f.key), session.NewFileCache(*f.sessionPath))
	provider.Init(ctx)
	remote := invoice.NewRemote(*f.url, *f.key)
	return &app{
		provider: provider,
		client:   invoice.NewClient(provider, remote, remote),
		policy:   authz.RecordPolicy{},
		out:      os.Stdout,
	}
}

// view resolves what the current identity may do with rec.
func (a *app) view(rec *invoice.Record) authz.View {
	return authz.Resolve(a.policy, a.provider.Identity(), rec)
}

// find looks a record up and checks that action is offered on it.
func (a *app) find(ctx context.Context, id string, action authz.Action) (*invoice.Record, error) {
	records, err := a.client.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ID != id {
			continue
		}
		if !a.view(rec).Allows(action) {
			return nil, fmt.Errorf("%s %s: %w", action, id, invoice.ErrForbidden)
		}
		return rec, nil
	}
	return nil, fmt.Errorf("invoice %s: %w", id, invoice.ErrNotFound)
}

// parseToken accepts either the JSON handed out by the store or a bare token.
func parseToken(raw string) (session.Token, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tok session.Token
		if err := json.Unmarshal([]byte(raw), &tok); err != nil {
			return session.Token{}, fmt.Errorf("reading token: %w", err)
		}
		return tok, nil
	}
	return session.Token{AccessToken: raw}, nil
}

func writeQR(path, content string) error {
	png, err := qrcode.Encode(content, qrcode.Low, 256)
	if err != nil {
		return fmt.Errorf("encoding QR code: %w", err)
	}
	if err := os.WriteFile(path, png, 0600); err != nil {
		return fmt.Errorf("writing QR code: %w", err)
	}
	return nil
}

func oneArg(args []string, what string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("expected exactly one %s", what)
	}
	return args[0], nil
}

func newLoginCommand(parent *ff.FlagSet, flags *clientFlags) *ff.Command {
	fs := ff.NewFlagSet("login").SetParent(parent)
	provider := fs.StringLong("provider", "google", "Identity provider")
	scopes := fs.StringLong("scopes", session.DefaultScopes, "Scopes to request")
	qrPath := fs.StringLong("qr", "", "Also write the sign-in URL as a QR code PNG to this path")

	return &ff.Command{
		Name:      "login",
		Usage:     "invoice-declare login [FLAGS] [TOKEN]",
		ShortHelp: "sign in and cache the session",
		LongHelp:  "Without TOKEN, prints the sign-in URL and reads the token the browser shows afterwards from standard input.",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			a := flags.open(ctx)

			var raw string
			if len(args) > 0 {
				raw = args[0]
			} else {
				signInURL := a.provider.SignInWithProvider(*provider, *scopes)
				if *qrPath != "" {
					if err := writeQR(*qrPath, signInURL); err != nil {
						return err
					}
					fmt.Fprintf(a.out, "QR code written to %s\n", *qrPath)
				}
				fmt.Fprintf(a.out, "Open this URL in a browser and sign in:\n\n  %s\n\nThen paste the token shown: ", signInURL)
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading token: %w", err)
				}
				raw = line
			}

			tok, err := parseToken(raw)
			if err != nil {
				return err
			}
			if err := a.provider.SignIn(ctx, tok); err != nil {
				return fmt.Errorf("%w: %w", invoice.ErrNotAuthenticated, err)
			}

			id := a.provider.Identity()
			records, err := a.client.ListAfterSignIn(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Signed in as %s. %d invoice(s) visible.\n", id.Email, len(records))
			return nil
		},
	}
}

func newLogoutCommand(parent *ff.FlagSet, flags *clientFlags) *ff.Command {
	return &ff.Command{
		Name:      "logout",
		Usage:     "invoice-declare logout",
		ShortHelp: "forget the cached session",
		Flags:     ff.NewFlagSet("logout").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			a := flags.open(ctx)
			if err := a.provider.SignOut(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Signed out.")
			return nil
		},
	}
}

func newWhoamiCommand(parent *ff.FlagSet, flags *clientFlags) *ff.Command {
	return &ff.Command{
		Name:      "whoami",
		Usage:     "invoice-declare whoami",
		ShortHelp: "show the signed-in identity",
		Flags:     ff.NewFlagSet("whoami").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			a := flags.open(ctx)
			id := a.provider.Identity()
			if id == nil {
				return invoice.ErrNotAuthenticated
			}
			fmt.Fprintf(a.out, "%s <%s>\n", id.DisplayName(), id.Email)
			fmt.Fprintf(a.out, "id:    %s\n", id.ID)
			fmt.Fprintf(a.out, "admin: %t\n", authz.IsAdmin(id))
			return nil
		},
	}
}
