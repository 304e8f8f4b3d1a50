// Package main provides the stagehand-sandbox server entrypoint. It exposes
// a local sandbox directory over HTTP for `stagehand run --sandbox remote`.
//
// Usage:
//
//	stagehand-sandbox serve --root <dir> [--listen :8787] [--token <t>]
//
// Exit codes:
//   - 0: clean shutdown on SIGINT or SIGTERM
//   - 1: server error
//   - 3: setup failure
package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/sandbox"
	"github.com/pithecene-io/stagehand/types"
)

const (
	exitServerError = 1
	exitSetupError  = 3
)

// shutdownTimeout bounds graceful shutdown. Running commands are cancelled
// when it passes.
const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:    "stagehand-sandbox",
		Usage:   "Serve a sandbox directory to remote stagehand sessions",
		Version: types.Version,
		Commands: []*cli.Command{
			serveCommand(),
		},
		ExitErrHandler: exitErrHandler,
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit
		os.Exit(exitServerError)
	}
}

// exitErrHandler handles errors from the CLI, respecting cli.ExitCoder.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitServerError)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the sandbox API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "root",
				Usage:    "Sandbox working directory (created if missing)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address",
				Value: ":8787",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Require this bearer token on API calls",
				EnvVars: []string{"STAGEHAND_SANDBOX_TOKEN"},
			},
			&cli.StringFlag{
				Name:  "shell",
				Usage: "Shell used to run commands",
				Value: "sh",
			},
			&cli.StringFlag{
				Name:  "hostname",
				Usage: "Hostname reported for preview URLs",
				Value: "localhost",
			},
			&cli.DurationFlag{
				Name:  "command-timeout",
				Usage: "Default bound for commands that carry no timeout (background commands are exempt)",
				Value: sandbox.DefaultCommandTimeout,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
		},
		Action: serveAction,
	}
}

// serveConfig holds parsed serve flags.
type serveConfig struct {
	root           string
	token          string
	shell          string
	hostname       string
	commandTimeout time.Duration
}

func serveAction(c *cli.Context) error {
	lvl, err := zapcore.ParseLevel(c.String("log-level"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid log level: %v", err), exitSetupError)
	}
	logger := log.NewLoggerWithLevel("", os.Stderr, lvl).With("component", "sandbox-server")
	defer func() { _ = logger.Sync() }()

	handler, err := newHandler(serveConfig{
		root:           c.String("root"),
		token:          c.String("token"),
		shell:          c.String("shell"),
		hostname:       c.String("hostname"),
		commandTimeout: c.Duration("command-timeout"),
	}, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	ln, err := net.Listen("tcp", c.String("listen"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("listen: %v", err), exitSetupError)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("sandbox server listening", map[string]any{
		"addr": ln.Addr().String(),
		"root": c.String("root"),
		"auth": c.String("token") != "",
	})
	if err := serve(ctx, ln, handler); err != nil {
		return cli.Exit(err.Error(), exitServerError)
	}
	logger.Info("sandbox server stopped", nil)
	return nil
}

// newHandler builds the HTTP handler for a local sandbox rooted at cfg.root.
func newHandler(cfg serveConfig, logger *log.Logger) (http.Handler, error) {
	sb, err := sandbox.NewLocal(sandbox.LocalConfig{
		Root:     cfg.root,
		Shell:    cfg.shell,
		Hostname: cfg.hostname,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	var h http.Handler = sandbox.NewServer(sb, logger, sandbox.WithCommandTimeout(cfg.commandTimeout))
	if cfg.token != "" {
		h = requireToken(h, cfg.token)
	}
	return h, nil
}

// requireToken rejects API calls without the bearer token. /health stays
// open for load balancer health checks.
func requireToken(next http.Handler, token string) http.Handler {
	want := []byte("Bearer " + token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" &&
			subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// serve runs the HTTP server on ln until ctx ends, then shuts it down.
func serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
