package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ironsheep/capture-assistant/internal/failure"
	"github.com/ironsheep/capture-assistant/internal/imaging"
)

// DefaultMathpixURL is the Mathpix text endpoint.
const DefaultMathpixURL = "https://api.mathpix.com/v3/text"

// Mathpix extracts LaTeX from formula images with the Mathpix API.
type Mathpix struct {
	url    string
	appID  string
	appKey string
	client *http.Client
}

// NewMathpix creates a Mathpix extractor. An empty url uses DefaultMathpixURL.
func NewMathpix(url, appID, appKey string, client *http.Client) *Mathpix {
	if url == "" {
		url = DefaultMathpixURL
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Mathpix{url: url, appID: appID, appKey: appKey, client: client}
}

type mathpixResponse struct {
	LatexStyled string `json:"latex_styled"`
	Text        string `json:"text"`
	Error       string `json:"error"`
}

// ExtractFormula uploads img and returns the styled LaTeX.
func (m *Mathpix) ExtractFormula(ctx context.Context, img image.Image) (string, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return "", failure.Wrap(failure.RecognitionError, "encode formula", err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "formula.png")
	if err != nil {
		return "", failure.Wrap(failure.Internal, "build mathpix request", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", failure.Wrap(failure.Internal, "build mathpix request", err)
	}
	if err := form.WriteField("options_json", `{"formats":["latex_styled","text"]}`); err != nil {
		return "", failure.Wrap(failure.Internal, "build mathpix request", err)
	}
	if err := form.Close(); err != nil {
		return "", failure.Wrap(failure.Internal, "build mathpix request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, &body)
	if err != nil {
		return "", failure.Wrap(failure.Internal, "build mathpix request", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("app_id", m.appID)
	req.Header.Set("app_key", m.appKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", failure.Wrap(failure.RecognitionError, "mathpix request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", failure.Wrap(failure.RecognitionError, "read mathpix response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", failure.New(failure.RecognitionError, fmt.Sprintf("mathpix returned HTTP %d", resp.StatusCode))
	}

	var out mathpixResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", failure.Wrap(failure.RecognitionError, "decode mathpix response", err)
	}
	if out.Error != "" {
		return "", failure.New(failure.RecognitionError, "mathpix: "+out.Error)
	}
	if out.LatexStyled != "" {
		return out.LatexStyled, nil
	}
	return stripMathDelimiters(out.Text), nil
}

// stripMathDelimiters removes the \( \) or \[ \] pair Mathpix puts around
// formulas in its text format.
func stripMathDelimiters(s string) string {
	s = strings.TrimSpace(s)
	for _, pair := range [][2]string{{`\(`, `\)`}, {`\[`, `\]`}} {
		if strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
			return strings.TrimSpace(s[len(pair[0]) : len(s)-len(pair[1])])
		}
	}
	return s
}
