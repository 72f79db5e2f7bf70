// Command zulip-events follows a Zulip event queue from the command line.
//
//	zulip-events tail     [flags]            print every event as a JSON line
//	zulip-events messages [flags]            print messages as they arrive
//	zulip-events send     [flags] [content]  send a message (content from stdin if omitted)
//	zulip-events replay   [flags] <journal>  print events recorded with --journal
//
// Credentials come from --site/--user/--api-key, ZULIP_* variables, a .env
// file or ~/.zuliprc, in that order.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	zulip "github.com/zulip/client-go"
	"github.com/zulip/client-go/internal/journal"
	"github.com/zulip/client-go/zuliprc"
)

const usage = `usage: zulip-events <command> [flags]

commands:
  tail      print every event as a JSON line
  messages  print messages as they arrive
  send      send a message
  replay    print events from a journal file`

// Config holds the process streams the command talks to.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultConfig returns a Config bound to the process streams.
func DefaultConfig() Config {
	return Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func run(ctx context.Context, args []string, cfg Config) error {
	if len(args) < 2 {
		return errors.New(usage)
	}

	switch args[1] {
	case "tail":
		return runTail(ctx, args[2:], cfg)
	case "messages":
		return runMessages(ctx, args[2:], cfg)
	case "send":
		return runSend(ctx, args[2:], cfg)
	case "replay":
		return runReplay(ctx, args[2:], cfg)
	case "help", "-h", "--help":
		fmt.Fprintln(cfg.Stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\n%s", args[1], usage)
	}
}

// watchFlags are shared by the commands that follow a queue.
type watchFlags struct {
	eventTypes       []string
	narrow           string
	narrowFile       string
	allPublicStreams bool
	queueFile        string
	journal          string
	count            int
}

func (w *watchFlags) register(fs *pflag.FlagSet) {
	fs.StringSliceVar(&w.eventTypes, "event-types", nil, "event types to receive (default all)")
	fs.StringVar(&w.narrow, "narrow", "", `narrow as JSON, e.g. '[["stream","devel"]]'`)
	fs.StringVar(&w.narrowFile, "narrow-file", "", "file holding the narrow as JSON with comments")
	fs.BoolVar(&w.allPublicStreams, "all-public-streams", false, "receive messages from every public stream")
	fs.StringVar(&w.queueFile, "queue-file", "", "persist the queue and resume it on the next run")
	fs.StringVar(&w.journal, "journal", "", "record events to this file (.zst to compress)")
	fs.IntVarP(&w.count, "count", "n", 0, "exit after this many events")
}

func (w *watchFlags) options() ([]zulip.WatchOption, error) {
	var opts []zulip.WatchOption
	if len(w.eventTypes) > 0 {
		opts = append(opts, zulip.WithEventTypes(w.eventTypes...))
	}
	narrow, err := w.parseNarrow()
	if err != nil {
		return nil, err
	}
	if len(narrow) > 0 {
		opts = append(opts, zulip.WithNarrow(narrow))
	}
	if w.allPublicStreams {
		opts = append(opts, zulip.WithAllPublicStreams())
	}
	if w.queueFile != "" {
		opts = append(opts, zulip.WithQueueFile(w.queueFile))
	}
	return opts, nil
}

func (w *watchFlags) parseNarrow() ([][]string, error) {
	data := []byte(w.narrow)
	if w.narrowFile != "" {
		if w.narrow != "" {
			return nil, errors.New("--narrow and --narrow-file are mutually exclusive")
		}
		var err error
		data, err = os.ReadFile(w.narrowFile)
		if err != nil {
			return nil, fmt.Errorf("read narrow file: %w", err)
		}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var narrow [][]string
	if err := json.Unmarshal(jsonc.ToJSON(data), &narrow); err != nil {
		return nil, fmt.Errorf("parse narrow: %w", err)
	}
	return narrow, nil
}

// newFlagSet returns a flag set carrying the API configuration group and
// --env-file.
func newFlagSet(name string, cfg Config, envFile *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(cfg.Stderr)
	zuliprc.AddFlags(fs, "")
	fs.StringVar(envFile, "env-file", ".env", "dotenv file with ZULIP_* variables, ignored if missing")
	return fs
}

// connect resolves the configuration and creates a client and logger.
func connect(fs *pflag.FlagSet, cfg Config, envFile string) (*zulip.Client, *slog.Logger, error) {
	if err := zuliprc.LoadEnvFiles(envFile); err != nil {
		return nil, nil, err
	}
	rc, err := zuliprc.Load(fs, "")
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	level := slog.LevelInfo
	if rc.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cfg.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := zulip.NewFromConfig(rc,
		zulip.WithLogger(logger),
		zulip.WithClientName("zulip-events/"+zulip.Version),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create client: %w", err)
	}
	return client, logger, nil
}

// counter ends a subscription after limit events; zero means no limit.
type counter struct {
	limit  int
	seen   int
	cancel context.CancelFunc
}

func (c *counter) tick() {
	c.seen++
	if c.limit > 0 && c.seen >= c.limit {
		c.cancel()
	}
}

// follow runs handler on every event, recording to the journal when one is
// configured, until ctx is cancelled or the event limit is reached.
func follow(ctx context.Context, client *zulip.Client, logger *slog.Logger, w *watchFlags, handler zulip.EventHandler) error {
	opts, err := w.options()
	if err != nil {
		return err
	}

	var journ *journal.Writer
	if w.journal != "" {
		journ, err = journal.Create(w.journal)
		if err != nil {
			return err
		}
		defer func() {
			if err := journ.Close(); err != nil {
				logger.Warn("close journal failed", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	count := &counter{limit: w.count, cancel: cancel}

	var queueID string
	opts = append(opts, zulip.WithOnRegister(func(h zulip.QueueHandle) {
		queueID = h.QueueID
	}))

	err = client.CallOnEachEvent(ctx, func(ctx context.Context, event zulip.Event) error {
		if journ != nil {
			if err := journ.Write(queueID, event); err != nil {
				return err
			}
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
		count.tick()
		return nil
	}, opts...)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runTail(ctx context.Context, args []string, cfg Config) error {
	var envFile string
	var w watchFlags
	fs := newFlagSet("tail", cfg, &envFile)
	w.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, logger, err := connect(fs, cfg, envFile)
	if err != nil {
		return err
	}
	defer client.Close()

	return follow(ctx, client, logger, &w, func(_ context.Context, event zulip.Event) error {
		_, err := fmt.Fprintf(cfg.Stdout, "%s\n", event.Raw)
		return err
	})
}

func runMessages(ctx context.Context, args []string, cfg Config) error {
	var envFile string
	var w watchFlags
	fs := newFlagSet("messages", cfg, &envFile)
	w.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	w.eventTypes = []string{"message"}

	client, logger, err := connect(fs, cfg, envFile)
	if err != nil {
		return err
	}
	defer client.Close()

	return follow(ctx, client, logger, &w, func(_ context.Context, event zulip.Event) error {
		msg := event.Message()
		if msg == nil {
			return nil
		}
		_, err := fmt.Fprintln(cfg.Stdout, formatMessage(msg))
		return err
	})
}

// formatMessage renders a message on one line.
func formatMessage(msg *zulip.Message) string {
	content := strings.ReplaceAll(msg.Content, "\n", " ")
	if msg.Type == zulip.MessageTypeStream {
		return fmt.Sprintf("%s [%s > %s]: %s", msg.SenderEmail, msg.Recipient, msg.Subject, content)
	}
	return fmt.Sprintf("%s [%s]: %s", msg.SenderEmail, strings.Join(msg.Recipients, ", "), content)
}

func runSend(ctx context.Context, args []string, cfg Config) error {
	var envFile, stream, subject string
	var to []string
	fs := newFlagSet("send", cfg, &envFile)
	fs.StringVar(&stream, "stream", "", "stream to post to")
	fs.StringVar(&subject, "subject", "", "topic of a stream message")
	fs.StringSliceVar(&to, "to", nil, "recipient emails of a private message")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := zulip.SendMessageRequest{Subject: subject}
	switch {
	case stream != "" && len(to) > 0:
		return errors.New("--stream and --to are mutually exclusive")
	case stream != "":
		if subject == "" {
			return errors.New("--subject is required for stream messages")
		}
		req.Type = zulip.MessageTypeStream
		req.To = []string{stream}
	case len(to) > 0:
		req.Type = zulip.MessageTypePrivate
		req.To = to
	default:
		return errors.New("one of --stream or --to is required")
	}

	req.Content = strings.Join(fs.Args(), " ")
	if req.Content == "" {
		data, err := io.ReadAll(cfg.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		req.Content = strings.TrimRight(string(data), "\n")
	}
	if strings.TrimSpace(req.Content) == "" {
		return errors.New("message content is empty")
	}

	client, _, err := connect(fs, cfg, envFile)
	if err != nil {
		return err
	}
	defer client.Close()

	id, err := client.SendMessage(ctx, req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return json.NewEncoder(cfg.Stdout).Encode(map[string]int64{"id": id})
}

func runReplay(ctx context.Context, args []string, cfg Config) error {
	var types []string
	fs := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	fs.SetOutput(cfg.Stderr)
	fs.StringSliceVar(&types, "event-types", nil, "only print these event types")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: zulip-events replay [--event-types a,b] <journal>")
	}

	_, err := journal.Replay(ctx, fs.Arg(0), func(_ context.Context, event zulip.Event) error {
		if len(types) > 0 && !slices.Contains(types, event.Type) {
			return nil
		}
		_, err := fmt.Fprintf(cfg.Stdout, "%s\n", event.Raw)
		return err
	})
	return err
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
