package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agridetect/internal/client"
	"agridetect/internal/config"
	"agridetect/internal/queue"
	"agridetect/internal/utils"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath  string
	server      string
	sessionPath string
	verbose     bool
	jsonOut     bool

	cfg    config.Config
	logger *zap.Logger
	in     *bufio.Reader
	out    io.Writer
}

func main() {
	_ = godotenv.Load()

	a := &app{in: bufio.NewReader(os.Stdin), out: os.Stdout}
	if err := a.rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agridetect",
		Short:         "Field client for crop disease detection",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", os.Getenv("AGRIDETECT_CONFIG"), "path to config.yaml")
	f.StringVar(&a.server, "server", "", "server base URL (overrides config and AGRIDETECT_SERVER)")
	f.StringVar(&a.sessionPath, "session", client.DefaultSessionPath(), "session file")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	f.BoolVar(&a.jsonOut, "json", false, "machine-readable output")

	a.out = root.OutOrStdout()
	root.AddCommand(
		a.registerCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.detectCmd(),
		a.queueCmd(),
		a.syncCmd(),
		a.historyCmd(),
		a.narrateCmd(),
		a.pingCmd(),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.server != "" {
		cfg.Client.ServerURL = strings.TrimRight(a.server, "/")
	}
	a.cfg = cfg

	level := "warn"
	if a.verbose {
		level = "debug"
	}
	a.logger, err = utils.NewLogger(utils.LogConfig{Level: level, Format: "console", File: cfg.Log.File})
	return err
}

// newClient returns an API client, authenticated when a valid session exists.
func (a *app) newClient(requireAuth bool) (*client.Client, *client.Session, error) {
	opts := []client.Option{client.WithTimeout(a.cfg.Client.Timeout), client.WithLogger(a.logger.Named("client"))}
	sess, err := client.LoadSession(a.sessionPath)
	switch {
	case err == nil && !sess.Expired(time.Now()):
		if a.server == "" && sess.ServerURL != "" {
			a.cfg.Client.ServerURL = sess.ServerURL
		}
		opts = append(opts, client.WithToken(sess.Token))
	case err == nil:
		if requireAuth {
			return nil, nil, errors.New("session expired; run 'agridetect login'")
		}
		sess = nil
	case errors.Is(err, client.ErrNoSession):
		if requireAuth {
			return nil, nil, errors.New("not logged in; run 'agridetect login'")
		}
	default:
		return nil, nil, fmt.Errorf("read session: %w", err)
	}
	return client.New(a.cfg.Client.ServerURL, opts...), sess, nil
}

func (a *app) openQueue() (queue.Store, error) {
	if a.cfg.Client.QueueBackend == "file" {
		return queue.NewFileStore(a.cfg.Client.QueueDir)
	}
	return queue.OpenBadger(queue.BadgerConfig{Path: a.cfg.Client.QueueDir, Logger: a.logger})
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// prompt reads one line from stdin when the flag value is empty.
func (a *app) prompt(label, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprintf(a.out, "%s: ", label)
	line, err := a.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return line, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
