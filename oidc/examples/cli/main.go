// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Command cli is a command line client for the authflow library. It logs in
// with the authorization code flow and PKCE through a local callback listener,
// keeps the tokens in a SQLite file and refreshes them on demand.
//
//	cli [-config file] login [-project name]
//	cli token
//	cli whoami
//	cli get <url>
//	cli logout
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/hashicorp/authflow/oidc"
	sdkhttp "github.com/hashicorp/authflow/sdk/http"
	"github.com/hashicorp/authflow/storage/memory"
	"github.com/hashicorp/authflow/storage/sqlite"
	"github.com/hashicorp/go-hclog"
)

const usage = `Usage: cli [-config file] <command> [args]

Commands:
    login    log in to a project
    token    print a valid access token
    whoami   print the identity of the current session
    get      send an authorized GET request and print the response
    logout   revoke the session and forget the tokens
`

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path of the configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *configPath, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// app holds what every command needs.
type app struct {
	cfg    *cliConfig
	ctrl   *oidc.Controller
	store  *sqlite.Storage
	logger hclog.Logger
}

func run(ctx context.Context, configPath, cmd string, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "token":
		return a.token(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "get":
		return a.get(ctx, args)
	case "logout":
		return a.ctrl.Logout(ctx)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

func newApp(cfg *cliConfig) (*app, error) {
	const op = "newApp"
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "authflow",
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: os.Stderr,
	})
	oc, err := cfg.oidcConfig(cfg.redirectURL())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	store, err := sqlite.Open(cfg.TokenFile, oc.ServerURL+"#"+oc.ClientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// the login attempt only has to outlive this process' listener
	ctrl, err := oidc.NewController(oc, store, memory.New(), oidc.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &app{cfg: cfg, ctrl: ctrl, store: store, logger: logger}, nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	project := fs.String("project", a.cfg.Project, "project to log in to")
	noBrowser := fs.Bool("no-browser", false, "print the authorization URL instead of opening a browser")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" {
		return fmt.Errorf("project is empty (use -project or %s)", envProject)
	}

	l, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", a.cfg.CallbackPort))
	if err != nil {
		return err
	}
	defer l.Close()

	open := func(authURL string) error {
		fmt.Fprintf(os.Stderr, "Complete the login via your browser:\n\n    %s\n\n", authURL)
		if *noBrowser {
			return nil
		}
		if err := openURL(authURL); err != nil {
			fmt.Fprintf(os.Stderr, "Error attempting to automatically open browser: '%s'.\nPlease visit the authorization URL manually.\n", err)
		}
		return nil
	}
	res, err := runLogin(ctx, a.ctrl, l, *project, a.cfg.LoginTimeout, open)
	if err != nil {
		return err
	}
	who := "unknown user"
	if res.Identity != nil && res.Identity.Username != "" {
		who = res.Identity.Username
	}
	fmt.Fprintf(os.Stderr, "Logged in to project %q as %s.\n", res.Project, who)
	return nil
}

func (a *app) token(ctx context.Context) error {
	tk, err := a.ctrl.EnsureToken(ctx)
	if err != nil {
		return notLoggedIn(err)
	}
	fmt.Println(tk)
	return nil
}

// whoamiOutput is the JSON printed by whoami.
type whoamiOutput struct {
	Subject  string              `json:"subject"`
	Username string              `json:"username"`
	Status   string              `json:"status"`
	Roles    map[string][]string `json:"roles"`
}

func (a *app) whoami(ctx context.Context) error {
	if _, err := a.ctrl.EnsureToken(ctx); err != nil {
		return notLoggedIn(err)
	}
	id, err := a.ctrl.Identity(ctx)
	if err != nil {
		return err
	}
	status, err := a.ctrl.Status(ctx)
	if err != nil {
		return err
	}
	out := whoamiOutput{
		Subject:  id.Subject,
		Username: id.Username,
		Status:   status.String(),
		Roles: map[string][]string{
			oidc.ResourceSystemManagement: id.Roles(oidc.ResourceSystemManagement).List(),
			oidc.ResourceUser:             id.Roles(oidc.ResourceUser).List(),
		},
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	return enc.Encode(out)
}

func (a *app) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("get takes exactly one url")
	}
	base, err := sdkhttp.NewClient(a.ctrl.Config().ProviderCA, a.ctrl.Config().Timeout)
	if err != nil {
		return err
	}
	client, err := sdkhttp.NewAuthorizedClient(a.ctrl, base)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args[0], nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return notLoggedIn(err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned %s", args[0], resp.Status)
	}
	return nil
}

// notLoggedIn turns a dead session into a hint.
func notLoggedIn(err error) error {
	if errors.Is(err, oidc.ErrNotAuthenticated) || errors.Is(err, oidc.ErrRefreshRejected) {
		return fmt.Errorf("%w: run \"cli login\" first", err)
	}
	return err
}
