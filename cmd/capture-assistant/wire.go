package main

import (
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/ironsheep/capture-assistant/internal/capture"
	"github.com/ironsheep/capture-assistant/internal/config"
	"github.com/ironsheep/capture-assistant/internal/history"
	"github.com/ironsheep/capture-assistant/internal/llm"
	"github.com/ironsheep/capture-assistant/internal/logging"
	"github.com/ironsheep/capture-assistant/internal/ocr"
	"github.com/ironsheep/capture-assistant/internal/orchestrator"
	"github.com/ironsheep/capture-assistant/internal/pipeline"
	"github.com/ironsheep/capture-assistant/internal/preprocess"
	"github.com/ironsheep/capture-assistant/internal/prompt"
	"github.com/ironsheep/capture-assistant/internal/recognize"
	"github.com/ironsheep/capture-assistant/internal/session"
	"github.com/ironsheep/capture-assistant/internal/sink"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *history.Store
	clipboard *capture.Clipboard
	sink      *sink.Sink
	templates *prompt.Registry
	sessions  *session.Manager
	client    *llm.Client
	engine    *ocr.Engine
	runner    *pipeline.Runner
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		FilePath:   cfg.Log.Path,
		Level:      cfg.Log.Level,
		Production: cfg.Log.Production,
	})
}

// wire builds every pipeline component from cfg.
func wire(cfg *config.Config, logger *zap.Logger) (*app, error) {
	templates, err := prompt.Load(cfg.Templates.Path)
	if err != nil {
		return nil, err
	}
	if !templates.Has(cfg.Session.DefaultTemplate) {
		return nil, fmt.Errorf("session.default_template %q is not a known template", cfg.Session.DefaultTemplate)
	}

	store, err := history.Open(cfg.History.Path, cfg.History.Capacity)
	if err != nil {
		return nil, err
	}

	clipboard := capture.NewClipboard(capture.ClipboardOptions{
		MaxChars: cfg.Capture.MaxSelectionChars,
		Images:   cfg.Capture.ClipboardImages,
	}, logger)
	out := sink.New(store, clipboard, sink.Options{CopyToClipboard: cfg.History.CopyToClipboard}, logger)

	sessions := session.NewManager(session.Options{
		KeyBy:           session.KeyBy(cfg.Session.KeyBy),
		IdleTimeout:     cfg.Session.IdleTimeout.Duration,
		SweepInterval:   cfg.Session.SweepInterval.Duration,
		DefaultTemplate: cfg.Session.DefaultTemplate,
	}, logger)

	client := llm.NewClient(llm.Config{
		Endpoint:     cfg.API.Endpoint,
		Token:        cfg.API.Token,
		Model:        cfg.API.Model,
		Temperature:  cfg.API.Temperature,
		MaxTokens:    cfg.API.MaxTokens,
		Stream:       cfg.API.Stream,
		MaxRetries:   cfg.API.MaxRetries,
		InitialDelay: cfg.API.RetryInitialDelay.Duration,
		MaxDelay:     cfg.API.RetryMaxDelay.Duration,
	}, logger)

	orch := orchestrator.New(client, templates, sessions, orchestrator.Options{
		SystemPrompt:    cfg.API.SystemPrompt,
		Timeout:         cfg.API.Timeout.Duration,
		DefaultTemplate: cfg.Session.DefaultTemplate,
	}, logger)

	var formulas ocr.FormulaExtractor
	if cfg.OCR.MathpixAppID != "" && cfg.OCR.MathpixAppKey != "" {
		formulas = ocr.NewMathpix(cfg.OCR.MathpixURL, cfg.OCR.MathpixAppID, cfg.OCR.MathpixAppKey, nil)
	}
	engine := ocr.NewEngine(ocr.NewTesseract(ocr.TesseractOptions{
		Languages:      cfg.OCR.Languages,
		TessdataPrefix: cfg.OCR.TessdataPrefix,
		PageSegMode:    cfg.OCR.PageSegMode,
	}), formulas, logger)

	runner := pipeline.New(
		preprocess.New(preprocess.Options{DebugDir: cfg.OCR.DebugDir}, logger),
		recognize.New(engine, recognize.Options{Workers: cfg.OCR.Workers, Languages: cfg.OCR.Languages}, logger),
		orch, sessions, out, logger,
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		clipboard: clipboard,
		sink:      out,
		templates: templates,
		sessions:  sessions,
		client:    client,
		engine:    engine,
		runner:    runner,
	}, nil
}

// grabber returns the screen grabber for the screenshot hotkey.
func (a *app) grabber() capture.DisplayGrabber {
	r := a.cfg.Capture.Region
	if r.Width == 0 || r.Height == 0 {
		return capture.DisplayGrabber{}
	}
	return capture.DisplayGrabber{Region: image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)}
}

// Close waits for runs in flight and releases the stores.
func (a *app) Close() error {
	a.runner.Wait()
	err := errors.Join(a.sink.Close(), a.store.Close())
	// Sync fails on terminals; nothing is lost.
	_ = a.logger.Sync()
	return err
}
