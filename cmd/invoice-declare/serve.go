package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/zombor/invoice-declare/internal/invoice"
	"github.com/zombor/invoice-declare/internal/session"
	"github.com/zombor/invoice-declare/internal/store"
)

const defaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

func newServeCommand(parent *ff.FlagSet, client *clientFlags) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "invoice-declare.db", "Database file path")
		storagePath  = fs.StringLong("storage", "./objects", "Page bucket directory")
		jwtSecret    = fs.StringLong("jwt-secret", "", "Secret used to sign session tokens (at least 32 characters)")
		sessionTTL   = fs.DurationLong("session-ttl", 7*24*time.Hour, "Session lifetime")
		environment  = fs.StringLong("environment", "development", "Deployment environment; 'production' scopes cookies to --cookie-domain")
		cookieDomain = fs.StringLong("cookie-domain", ".winlab.tw", "Cookie domain in production")
		publicURL    = fs.StringLong("public-url", "http://localhost:8080", "Externally visible base URL")
		clientID     = fs.StringLong("oauth-client-id", "", "OAuth client ID; sign-in is disabled without it")
		clientSecret = fs.StringLong("oauth-client-secret", "", "OAuth client secret")
		authURL      = fs.StringLong("oauth-auth-url", google.Endpoint.AuthURL, "OAuth authorization endpoint")
		tokenURL     = fs.StringLong("oauth-token-url", google.Endpoint.TokenURL, "OAuth token endpoint")
		userInfoURL  = fs.StringLong("oauth-userinfo-url", defaultUserInfoURL, "OpenID userinfo endpoint")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "invoice-declare serve [FLAGS]",
		ShortHelp: "run the backing store",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(*jwtSecret) < 32 {
				return errors.New("--jwt-secret must be at least 32 characters")
			}

			slog.Info("Initializing database...")
			db, err := store.NewBoltDB(*dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			slog.Info("Initializing storage...")
			bucket, err := store.NewLocalBucket(*storagePath)
			if err != nil {
				return err
			}

			auth := store.Auth{
				Tokens:    session.NewTokenManager(*jwtSecret, "invoice-declare", *sessionTTL),
				Cookies:   store.CookiePolicy(*environment, *cookieDomain),
				PublicKey: *client.key,
			}
			if *clientID != "" {
				auth.Exchanger = store.NewOAuthExchanger(&oauth2.Config{
					ClientID:     *clientID,
					ClientSecret: *clientSecret,
					Endpoint:     oauth2.Endpoint{AuthURL: *authURL, TokenURL: *tokenURL},
					RedirectURL:  strings.TrimRight(*publicURL, "/") + "/api/auth/callback",
					Scopes:       []string{"openid", "email", "profile"},
				}, *userInfoURL)
			} else {
				slog.Warn("OAuth client ID not set, sign-in is disabled")
			}

			server := store.NewServer(store.NewService(db, bucket), auth)
			httpServer := &http.Server{Addr: fmt.Sprintf(":%d", *port), Handler: server}

			errc := make(chan error, 1)
			go func() {
				slog.Info("Starting server", "address", httpServer.Addr, "environment", *environment)
				errc <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errc:
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
			}

			slog.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
}

func newGrantCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("grant").SetParent(parent)
	var (
		dbPath = fs.StringLong("db", "invoice-declare.db", "Database file path")
		area   = fs.StringLong("area", invoice.Area, "Application area")
		role   = fs.StringLong("role", invoice.AdminRole, "Role to grant")
	)

	return &ff.Command{
		Name:      "grant",
		Usage:     "invoice-declare grant [FLAGS] USER_ID",
		ShortHelp: "grant a role to a user (run while the server is stopped)",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			userID, err := oneArg(args, "user ID")
			if err != nil {
				return err
			}
			db, err := store.NewBoltDB(*dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			service := store.NewService(db, nil)
			if err := service.GrantRole(userID, *area, *role); err != nil {
				return err
			}
			fmt.Printf("Granted %s/%s to %s.\n", *area, *role, userID)
			return nil
		},
	}
}
