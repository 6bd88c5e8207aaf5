package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/capture-assistant/internal/capture"
	"github.com/ironsheep/capture-assistant/internal/config"
	"github.com/ironsheep/capture-assistant/internal/failure"
	"github.com/ironsheep/capture-assistant/internal/ocr"
	"github.com/ironsheep/capture-assistant/internal/overlay"
	"github.com/ironsheep/capture-assistant/internal/pipeline"
	"github.com/ironsheep/capture-assistant/internal/server"
	"github.com/ironsheep/capture-assistant/internal/sink"
)

// newApp creates the CLI application with all commands.
func newApp() *cli.App {
	app := &cli.App{
		Name:    "capture-assistant",
		Usage:   "Capture text or screen regions and ask a language model about them",
		Version: fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: config.DefaultPath(), Usage: "Config file (JSON)"},
			&cli.StringSliceFlag{Name: "env-file", Usage: "Dotenv files to load (default .env)"},
		},
		Commands: []*cli.Command{
			runCmd(),
			mcpCmd(),
			askCmd(),
			historyCmd(),
			templatesCmd(),
			checkCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Load(c.String("config"), c.StringSlice("env-file")...)
}

// setup loads the configuration and wires the pipeline.
func setup(c *cli.Context) (*app, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a, err := wire(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// runCmd starts the capture daemon.
func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Listen for captures (hotkeys, clipboard, overlay bridge) until interrupted",
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.RequireCredential(); err != nil {
				return err
			}

			ctx, stop := signalContext(c)
			defer stop()

			var producers []capture.Producer
			if a.cfg.ModeEnabled(capture.ModeHotkey) {
				producers = append(producers, capture.NewHotkeyProducer(capture.HotkeyOptions{
					Screenshot: a.cfg.Hotkeys.Screenshot,
					TextSelect: a.cfg.Hotkeys.TextSelect,
					Display:    capture.DisplayID(a.cfg.Capture.Display),
					MaxChars:   a.cfg.Capture.MaxSelectionChars,
				}, a.grabber(), a.clipboard, a.logger))
			}
			if a.cfg.ModeEnabled(capture.ModeClipboard) {
				producers = append(producers, a.clipboard)
			}
			var trigger *overlay.Trigger
			if a.cfg.ModeEnabled(capture.ModeHTTP) || a.cfg.Overlay.Enabled {
				trigger = overlay.NewTrigger(a.cfg.Capture.MaxSelectionChars)
				if a.cfg.ModeEnabled(capture.ModeHTTP) {
					producers = append(producers, trigger)
				}
			}
			if len(producers) == 0 {
				return errors.New("no capture mode enabled: set capture.modes")
			}

			adapter := capture.NewAdapter(a.logger, 16, producers...)
			events, err := adapter.Subscribe(ctx)
			if err != nil {
				return err
			}
			for _, u := range adapter.Unavailable() {
				fmt.Fprintf(c.App.ErrWriter, "capture mode %s unavailable: %s\n", u.Mode, u.Reason)
			}
			announceUnavailable(ctx, a.sink, adapter.Unavailable(), a.logger)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.runner.Serve(ctx, events)
				return nil
			})
			if trigger != nil {
				bridge := overlay.New(trigger, a.runner, a.sink, nil, a.logger)
				g.Go(func() error {
					return bridge.ListenAndServe(ctx, a.cfg.Overlay.Addr)
				})
			}

			a.logger.Info("capture assistant running",
				zap.Strings("modes", adapter.Modes()),
				zap.Bool("clipboard_images", a.clipboard.Images()),
				zap.String("version", Version))
			return g.Wait()
		},
	}
}

// announceUnavailable delivers one CaptureUnavailable failure per mode that
// could not start. The sink replays them to presentation layers that connect
// later.
func announceUnavailable(ctx context.Context, out *sink.Sink, modes []capture.Unavailable, logger *zap.Logger) {
	for _, u := range modes {
		err := failure.Wrap(failure.CaptureUnavailable, "capture mode "+u.Mode, u.Err)
		if err := out.Announce(ctx, sink.Failed("capture:"+u.Mode, err)); err != nil {
			logger.Warn("failed to announce unavailable capture mode", zap.String("mode", u.Mode), zap.Error(err))
		}
	}
}

// mcpCmd serves the MCP protocol on stdin/stdout.
func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the assistant as an MCP tool server over stdio",
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext(c)
			defer stop()

			srv := server.New(a.runner, a.sessions, a.templates, a.sink, server.Options{
				Version:       Version,
				MaxChars:      a.cfg.Capture.MaxSelectionChars,
				MaxImageBytes: overlay.MaxImageBytes,
				OCR:           a.engine.Info(),
			}, a.logger)
			return srv.Run(ctx, c.App.Reader, c.App.Writer)
		},
	}
}

// askCmd submits one capture and prints the response.
func askCmd() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask about text (flag or stdin) or an image file",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Text to ask about"},
			&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Usage: "Image file to recognize and ask about"},
			&cli.StringFlag{Name: "template", Usage: "Template ID for this request"},
			&cli.StringFlag{Name: "window", Aliases: []string{"w"}, Usage: "Window name, used as the session key when session.key_by is window"},
			&cli.BoolFlag{Name: "json", Usage: "Print the final outcome as JSON"},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.RequireCredential(); err != nil {
				return err
			}

			template := c.String("template")
			if template != "" && !a.templates.Has(template) {
				return fmt.Errorf("unknown template %q", template)
			}

			ev, err := askEvent(c, a.cfg.Capture.MaxSelectionChars)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(c)
			defer stop()

			asJSON := c.Bool("json")
			result, err := ask(ctx, a, pipeline.Request{Event: ev, Template: template}, c.App.Writer, !asJSON)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(c.App.Writer)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			}
			if result.Kind == sink.Failure {
				return outcomeError(result)
			}
			return nil
		},
	}
}

func askEvent(c *cli.Context, maxChars int) (capture.Event, error) {
	wctx := capture.WorkflowContext{Mode: capture.ModeCLI, Window: c.String("window")}

	if path := c.String("image"); path != "" {
		if c.String("text") != "" || c.NArg() > 0 {
			return capture.Event{}, errors.New("use either --text or --image, not both")
		}
		raster, err := os.ReadFile(path)
		if err != nil {
			return capture.Event{}, fmt.Errorf("failed to read image: %w", err)
		}
		return capture.NewImageEvent(raster, 0, wctx), nil
	}

	text := c.String("text")
	if text == "" && c.NArg() > 0 {
		text = strings.Join(c.Args().Slice(), " ")
	}
	if text == "" {
		data, err := io.ReadAll(io.LimitReader(c.App.Reader, overlay.MaxImageBytes))
		if err != nil {
			return capture.Event{}, fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return capture.Event{}, errors.New("nothing to ask: pass --text, --image, or pipe text on stdin")
	}
	return capture.NewTextEvent(capture.TruncateSelection(text, maxChars), 0, wctx), nil
}

// ask runs req, printing chunks to w as they arrive when stream is set, and
// returns the final outcome.
func ask(ctx context.Context, a *app, req pipeline.Request, w io.Writer, stream bool) (sink.Outcome, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	outcomes, err := a.sink.Subscribe(subCtx)
	if err != nil {
		return sink.Outcome{}, err
	}

	runID := req.Event.ID()
	done := make(chan sink.Outcome, 1)
	go func() {
		done <- a.runner.RunAndWait(ctx, req)
	}()

	printed := false
	handle := func(o sink.Outcome) {
		if stream && o.RunID == runID && o.Kind == sink.Chunk {
			fmt.Fprint(w, o.Text)
			printed = true
		}
	}

	var result sink.Outcome
wait:
	for {
		select {
		case o, ok := <-outcomes:
			if !ok {
				outcomes = nil
				continue
			}
			handle(o)
		case result = <-done:
			for {
				select {
				case o, ok := <-outcomes:
					if !ok {
						break wait
					}
					handle(o)
				default:
					break wait
				}
			}
		}
	}

	if stream {
		if !printed && result.Text != "" {
			fmt.Fprint(w, result.Text)
			printed = true
		}
		if printed {
			fmt.Fprintln(w)
		}
	}
	return result, nil
}

func outcomeError(o sink.Outcome) error {
	if o.Failure == nil {
		return errors.New("request failed")
	}
	if o.Failure.Detail != "" {
		return fmt.Errorf("%s (%s)", o.Failure.Notice, o.Failure.Detail)
	}
	return errors.New(o.Failure.Notice)
}

// historyCmd lists or clears the clipboard history.
func historyCmd() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show or clear the clipboard history",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List stored results, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum entries"},
					&cli.BoolFlag{Name: "json", Usage: "Print entries as JSON"},
				},
				Action: func(c *cli.Context) error {
					a, err := setup(c)
					if err != nil {
						return err
					}
					defer a.Close()

					entries, err := a.sink.History(c.Context, c.Int("limit"))
					if err != nil {
						return err
					}
					if c.Bool("json") {
						enc := json.NewEncoder(c.App.Writer)
						enc.SetIndent("", "  ")
						return enc.Encode(entries)
					}
					tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tCREATED\tTEMPLATE\tKIND\tTEXT")
					for _, e := range entries {
						fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
							e.ID, e.CreatedAt.Local().Format(time.DateTime), e.TemplateID, e.Kind, preview(e.Text, 60))
					}
					return tw.Flush()
				},
			},
			{
				Name:  "clear",
				Usage: "Delete every stored result",
				Action: func(c *cli.Context) error {
					a, err := setup(c)
					if err != nil {
						return err
					}
					defer a.Close()

					n, err := a.store.Clear(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "cleared %d entries\n", n)
					return nil
				},
			},
		},
	}
}

func preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// templatesCmd lists the available prompt templates.
func templatesCmd() *cli.Command {
	return &cli.Command{
		Name:  "templates",
		Usage: "List prompt templates",
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
			for _, t := range a.templates.List() {
				id := t.ID
				if id == a.cfg.Session.DefaultTemplate {
					id += " (default)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", id, t.Name, t.Description)
			}
			return tw.Flush()
		},
	}
}

type checkReport struct {
	Config   config.Config `json:"config"`
	OCR      ocr.Info      `json:"ocr"`
	Endpoint string        `json:"endpoint"`
}

// checkCmd validates the configuration and pings the endpoint.
func checkCmd() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate configuration, report OCR availability, and ping the endpoint",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "offline", Usage: "Skip the endpoint ping"},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.Close()

			report := checkReport{
				Config:   a.cfg.Redacted(),
				OCR:      a.engine.Info(),
				Endpoint: "skipped",
			}
			var pingErr error
			if !c.Bool("offline") {
				pingErr = a.cfg.RequireCredential()
				if pingErr == nil {
					ctx, cancel := context.WithTimeout(c.Context, a.cfg.API.Timeout.Duration)
					pingErr = a.client.Ping(ctx)
					cancel()
				}
				report.Endpoint = "ok"
				if pingErr != nil {
					report.Endpoint = pingErr.Error()
				}
			}

			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return pingErr
		},
	}
}
