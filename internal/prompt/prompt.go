// Package prompt holds the prompt templates a capture is rendered into
// before it is sent to the model.
package prompt

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/ironsheep/capture-assistant/internal/failure"
	"github.com/ironsheep/capture-assistant/internal/recognize"
)

// DefaultContextWindow is used by templates that do not declare one.
const DefaultContextWindow = 4

//go:embed builtin.json
var builtinJSON []byte

// Data is what a template is executed against.
type Data struct {
	// Text is the recognized plain text, without tables or formulas.
	Text string
	// Markup is the whole capture in reading order.
	Markup   string
	Tables   []string
	Formulas []string
}

// DataFrom extracts template data from a recognized document.
func DataFrom(doc *recognize.Document) Data {
	return Data{
		Text:     doc.PlainText(),
		Markup:   doc.Markup(),
		Tables:   doc.Tables(),
		Formulas: doc.Formulas(),
	}
}

// Template is a named prompt.
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// System is appended to the configured system prompt when set.
	System string `json:"system,omitempty"`
	// Text is a text/template over Data.
	Text           string   `json:"text"`
	RequiredFields []string `json:"required_fields,omitempty"`
	// ContextWindow is the number of previous exchanges sent with a request.
	// Zero sends none; an absent field means DefaultContextWindow.
	ContextWindow int `json:"context_window"`

	tmpl *template.Template
}

// UnmarshalJSON decodes a template, telling an explicit zero context_window
// apart from an absent one.
func (t *Template) UnmarshalJSON(data []byte) error {
	type plain Template
	aux := struct {
		*plain
		ContextWindow *int `json:"context_window"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.ContextWindow = DefaultContextWindow
	if aux.ContextWindow != nil {
		t.ContextWindow = *aux.ContextWindow
	}
	return nil
}

var knownFields = map[string]bool{"Text": true, "Markup": true, "Tables": true, "Formulas": true}

func (t *Template) compile() error {
	if t.ID == "" {
		return errors.New("template without id")
	}
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("template %q has no text", t.ID)
	}
	for _, f := range t.RequiredFields {
		if !knownFields[f] {
			return fmt.Errorf("template %q requires unknown field %q", t.ID, f)
		}
	}
	if t.ContextWindow < 0 {
		return fmt.Errorf("template %q has negative context_window", t.ID)
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	tmpl, err := template.New(t.ID).Option("missingkey=error").Parse(t.Text)
	if err != nil {
		return fmt.Errorf("template %q: %w", t.ID, err)
	}
	t.tmpl = tmpl
	return nil
}

// Render executes the template. A required field that is empty in data
// fails with TemplateError.
func (t *Template) Render(data Data) (string, error) {
	for _, f := range t.RequiredFields {
		if fieldEmpty(data, f) {
			return "", failure.New(failure.TemplateError,
				fmt.Sprintf("template %q requires %s but the capture has none", t.ID, strings.ToLower(f)))
		}
	}
	var b strings.Builder
	if err := t.tmpl.Execute(&b, data); err != nil {
		return "", failure.Wrapf(failure.TemplateError, err, "render template %q", t.ID)
	}
	return b.String(), nil
}

func fieldEmpty(d Data, field string) bool {
	switch field {
	case "Text":
		return strings.TrimSpace(d.Text) == ""
	case "Markup":
		return strings.TrimSpace(d.Markup) == ""
	case "Tables":
		return len(d.Tables) == 0
	case "Formulas":
		return len(d.Formulas) == 0
	}
	return true
}

// Registry is a read-only set of templates.
type Registry struct {
	byID map[string]*Template
}

// Builtin returns the embedded templates.
func Builtin() *Registry {
	r, err := parse(builtinJSON, &Registry{byID: map[string]*Template{}})
	if err != nil {
		panic(fmt.Sprintf("builtin templates: %v", err))
	}
	return r
}

// Load returns the built-in templates overlaid with those in path, a JSON
// array of templates. A template whose ID matches a built-in replaces it.
// An empty path or a missing file yields the built-ins.
func Load(path string) (*Registry, error) {
	r := Builtin()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}
	return parse(data, r)
}

func parse(data []byte, into *Registry) (*Registry, error) {
	var list []*Template
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	for _, t := range list {
		if err := t.compile(); err != nil {
			return nil, err
		}
		into.byID[t.ID] = t
	}
	return into, nil
}

// Get returns the template with id. Unknown ids fail with TemplateError.
func (r *Registry) Get(id string) (*Template, error) {
	t, ok := r.byID[id]
	if !ok {
		return nil, failure.New(failure.TemplateError, fmt.Sprintf("unknown template %q", id))
	}
	return t, nil
}

// Has reports whether id names a template.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// List returns all templates sorted by ID.
func (r *Registry) List() []*Template {
	out := make([]*Template, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
