// Package config loads the assistant configuration.
//
// Precedence, lowest to highest: built-in defaults, the JSON config file (nested
// objects are merged over the defaults), variables from .env files, and the
// process environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CAPTURE_ASSIST_"

// Config holds all application configuration.
type Config struct {
	API       APIConfig       `json:"api"`
	Capture   CaptureConfig   `json:"capture"`
	Hotkeys   HotkeyConfig    `json:"hotkeys"`
	OCR       OCRConfig       `json:"ocr"`
	Session   SessionConfig   `json:"session"`
	History   HistoryConfig   `json:"history"`
	Templates TemplatesConfig `json:"templates"`
	Overlay   OverlayConfig   `json:"overlay"`
	Log       LogConfig       `json:"log"`
}

// APIConfig describes the remote completion endpoint.
type APIConfig struct {
	Endpoint     string  `json:"endpoint" validate:"required,url"`
	Token        string  `json:"token"`
	Model        string  `json:"model" validate:"required"`
	SystemPrompt string  `json:"system_prompt"`
	Temperature  float64 `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens    int     `json:"max_tokens" validate:"gte=1"`
	Stream       bool    `json:"stream"`

	Timeout           Duration `json:"timeout"`
	MaxRetries        int      `json:"max_retries" validate:"gte=0,lte=10"`
	RetryInitialDelay Duration `json:"retry_initial_delay"`
	RetryMaxDelay     Duration `json:"retry_max_delay"`
}

// CaptureConfig selects capture modes.
type CaptureConfig struct {
	// Modes lists the enabled capture producers.
	Modes             []string `json:"modes" validate:"dive,oneof=hotkey clipboard http"`
	MaxSelectionChars int      `json:"max_selection_chars" validate:"gte=1"`
	// Display is the zero-based display grabbed by the screenshot hotkey.
	Display int `json:"display" validate:"gte=0"`
	// ClipboardImages also captures images copied to the clipboard when the
	// clipboard mode is enabled.
	ClipboardImages bool `json:"clipboard_images"`
	// Region limits the screenshot hotkey to part of the display. A zero
	// width or height grabs the whole display.
	Region RegionConfig `json:"region"`
}

// RegionConfig is a rectangle relative to the display's top-left corner.
type RegionConfig struct {
	X      int `json:"x" validate:"gte=0"`
	Y      int `json:"y" validate:"gte=0"`
	Width  int `json:"width" validate:"gte=0"`
	Height int `json:"height" validate:"gte=0"`
}

// HotkeyConfig maps actions to key combinations such as "ctrl+shift+x".
type HotkeyConfig struct {
	Screenshot string `json:"screenshot"`
	TextSelect string `json:"text_select"`
}

// OCRConfig configures recognition.
type OCRConfig struct {
	Languages      []string `json:"languages" validate:"min=1"`
	TessdataPrefix string   `json:"tessdata_prefix"`
	// PageSegMode is the tesseract page segmentation mode used for text segments.
	PageSegMode int `json:"page_seg_mode" validate:"gte=0,lte=13"`
	// Workers bounds per-segment parallelism. Zero means one per CPU.
	Workers  int    `json:"workers" validate:"gte=0"`
	DebugDir string `json:"debug_dir"`

	MathpixAppID  string `json:"mathpix_app_id"`
	MathpixAppKey string `json:"mathpix_app_key"`
	MathpixURL    string `json:"mathpix_url" validate:"omitempty,url"`
}

// SessionConfig configures conversation sessions.
type SessionConfig struct {
	// KeyBy chooses the session boundary heuristic.
	KeyBy           string   `json:"key_by" validate:"oneof=global mode window"`
	IdleTimeout     Duration `json:"idle_timeout"`
	SweepInterval   Duration `json:"sweep_interval"`
	DefaultTemplate string   `json:"default_template" validate:"required"`
}

// HistoryConfig configures the clipboard-history store.
type HistoryConfig struct {
	Path            string `json:"path"`
	Capacity        int    `json:"capacity" validate:"gte=1"`
	CopyToClipboard bool   `json:"copy_to_clipboard"`
}

// TemplatesConfig points at an optional user template file.
type TemplatesConfig struct {
	Path string `json:"path"`
}

// OverlayConfig configures the local presentation bridge.
type OverlayConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr" validate:"required_if=Enabled true"`
}

// LogConfig configures logging.
type LogConfig struct {
	Path       string `json:"path"`
	Level      string `json:"level" validate:"oneof=debug info warn error"`
	Production bool   `json:"production"`
}

// Duration is a time.Duration that unmarshals from "30s" or a number of seconds.
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
	case string:
		parsed, err := parseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// Default returns the default configuration.
func Default() *Config {
	base := defaultBaseDir()
	return &Config{
		API: APIConfig{
			Endpoint:          "https://api.deepseek.com",
			Model:             "deepseek-chat",
			SystemPrompt:      "You are a concise desktop assistant. Answer in Markdown.",
			Temperature:       0.7,
			MaxTokens:         1024,
			Stream:            true,
			Timeout:           Duration{30 * time.Second},
			MaxRetries:        3,
			RetryInitialDelay: Duration{500 * time.Millisecond},
			RetryMaxDelay:     Duration{8 * time.Second},
		},
		Capture: CaptureConfig{
			Modes:             []string{"hotkey"},
			MaxSelectionChars: 5000,
		},
		Hotkeys: HotkeyConfig{
			Screenshot: "ctrl+shift+x",
			TextSelect: "ctrl+shift+z",
		},
		OCR: OCRConfig{
			Languages:   []string{"eng", "chi_sim"},
			PageSegMode: 6,
			MathpixURL:  "https://api.mathpix.com/v3/text",
		},
		Session: SessionConfig{
			KeyBy:           "mode",
			IdleTimeout:     Duration{10 * time.Minute},
			SweepInterval:   Duration{time.Minute},
			DefaultTemplate: "explain",
		},
		History: HistoryConfig{
			Path:     filepath.Join(base, "history.db"),
			Capacity: 100,
		},
		Overlay: OverlayConfig{
			Addr: "127.0.0.1:7788",
		},
		Log: LogConfig{
			Path:  filepath.Join(base, "capture-assistant.log"),
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(defaultBaseDir(), "config.json")
}

func defaultBaseDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "capture-assistant")
	}
	return ".capture-assistant"
}

// Load reads configuration from path (optional; a missing file means defaults),
// then .env files, then environment overrides, and validates the result.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}

	// godotenv never overrides variables already present in the environment.
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	// Unmarshal into the populated defaults so absent keys keep their default.
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := firstEnv(EnvPrefix+"API_KEY", "DEEPSEEK_API_KEY"); v != "" {
		cfg.API.Token = v
	}
	if v := firstEnv(EnvPrefix+"ENDPOINT", "DEEPSEEK_BASE_URL"); v != "" {
		cfg.API.Endpoint = v
	}
	if v := firstEnv(EnvPrefix+"MODEL", "DEEPSEEK_DEFAULT_MODEL"); v != "" {
		cfg.API.Model = v
	}
	if v := firstEnv(EnvPrefix+"TIMEOUT", "DEEPSEEK_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", v, err)
		}
		cfg.API.Timeout = Duration{d}
	}
	if v := firstEnv(EnvPrefix+"MAX_RETRIES", "DEEPSEEK_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid max retries %q: %w", v, err)
		}
		cfg.API.MaxRetries = n
	}
	if v := os.Getenv(EnvPrefix + "CAPTURE_MODES"); v != "" {
		cfg.Capture.Modes = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "OCR_LANGUAGES"); v != "" {
		cfg.OCR.Languages = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "TESSDATA_PREFIX"); v != "" {
		cfg.OCR.TessdataPrefix = v
	}
	if v := os.Getenv(EnvPrefix + "HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv(EnvPrefix + "OVERLAY_ADDR"); v != "" {
		cfg.Overlay.Addr = v
		cfg.Overlay.Enabled = true
	}
	if v := firstEnv(EnvPrefix+"LOG_LEVEL", "DEEPSEEK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '+' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.API.Timeout.Duration <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.Session.IdleTimeout.Duration <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	return nil
}

// RequireCredential reports an error when no API token is configured.
func (c *Config) RequireCredential() error {
	if c.API.Token == "" {
		return fmt.Errorf("no API token configured: set %sAPI_KEY or api.token", EnvPrefix)
	}
	return nil
}

// ModeEnabled reports whether a capture mode is enabled.
func (c *Config) ModeEnabled(mode string) bool {
	for _, m := range c.Capture.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	if out.API.Token != "" {
		out.API.Token = "****"
	}
	if out.OCR.MathpixAppKey != "" {
		out.OCR.MathpixAppKey = "****"
	}
	return out
}
