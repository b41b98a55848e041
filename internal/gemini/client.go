// Package gemini implements the vision/generation capability on top of the
// Gemini REST API: segmentation, image-to-image generation, and
// vision-to-text generation. It is the single adapter behind the capability
// interfaces consumed by the vision engine and the pipeline orchestrator.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultTimeout = 120 * time.Second

	segmentPrompt = `Give the segmentation masks for the door excluding the doorframe.
Output a JSON list of segmentation masks where each entry contains the 2D
bounding box in the key "box_2d", the segmentation mask in key "mask", and
the text label in the key "label". Use descriptive labels.`
)

// Models names the model used for each capability.
type Models struct {
	Segment string
	Image   string
	Text    string
}

// Client communicates with the Gemini API.
type Client struct {
	apiKey     string
	baseURL    string
	models     Models
	httpClient *http.Client
}

// NewClient creates a Gemini client with the given API key and model names.
func NewClient(apiKey string, models Models) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		models:  models,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey string, models Models, baseURL string) *Client {
	c := NewClient(apiKey, models)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Region is one segmentation candidate as returned by the capability.
// Box2D is [y0, x0, y1, x1] normalized to a 0-1000 coordinate space.
// Mask, when present, is either a data:image/png;base64 string or a
// coarse box; MaskPNG decodes the former.
type Region struct {
	Box2D [4]int          `json:"box_2d"`
	Mask  json.RawMessage `json:"mask,omitempty"`
	Label string          `json:"label"`
}

// MaskPNG returns the decoded PNG mask bytes if the region carries a precise
// base64 mask payload.
func (r Region) MaskPNG() ([]byte, bool) {
	var s string
	if err := json.Unmarshal(r.Mask, &s); err != nil {
		return nil, false
	}
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(s, prefix) {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, prefix))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Segment asks the segmentation model for candidate regions in the image.
// The returned list may be empty; the caller decides whether that is an error.
func (c *Client) Segment(ctx context.Context, image []byte) ([]Region, error) {
	req := generateRequest{
		Contents: []content{{Parts: []part{
			{Text: segmentPrompt},
			{InlineData: &inlineData{MIMEType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(image)}},
		}}},
		// Thinking off gives better object-detection results.
		GenerationConfig: &generationConfig{ThinkingConfig: &thinkingConfig{ThinkingBudget: 0}},
	}

	resp, err := c.generate(ctx, c.models.Segment, req)
	if err != nil {
		return nil, err
	}

	raw := stripJSONFence(resp.text())
	var regions []Region
	if err := json.Unmarshal([]byte(raw), &regions); err != nil {
		return nil, fmt.Errorf("parsing segmentation response: %w", err)
	}
	return regions, nil
}

// GenerateImage sends a prompt plus image to the image model and returns the
// first inline image part of the response.
func (c *Client) GenerateImage(ctx context.Context, prompt string, image []byte) ([]byte, error) {
	req := generateRequest{
		Contents: []content{{Parts: []part{
			{Text: prompt},
			{InlineData: &inlineData{MIMEType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(image)}},
		}}},
	}

	resp, err := c.generate(ctx, c.models.Image, req)
	if err != nil {
		return nil, err
	}

	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("decoding image part: %w", err)
				}
				return data, nil
			}
		}
	}
	return nil, fmt.Errorf("no image part found in response")
}

// GenerateText sends a prompt plus image to the text model and returns the
// concatenated text parts of the response.
func (c *Client) GenerateText(ctx context.Context, prompt string, image []byte) (string, error) {
	req := generateRequest{
		Contents: []content{{Parts: []part{
			{Text: prompt},
			{InlineData: &inlineData{MIMEType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(image)}},
		}}},
	}

	resp, err := c.generate(ctx, c.models.Text, req)
	if err != nil {
		return "", err
	}

	text := resp.text()
	if text == "" {
		return "", fmt.Errorf("no text part found in response")
	}
	return text, nil
}

// --- wire types ---

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type generationConfig struct {
	ThinkingConfig *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content content `json:"content"`
}

func (r generateResponse) text() string {
	var b strings.Builder
	for _, cand := range r.Candidates {
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func (c *Client) generate(ctx context.Context, model string, req generateRequest) (generateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return generateResponse{}, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return generateResponse{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return generateResponse{}, fmt.Errorf("calling %s: %w", model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return generateResponse{}, fmt.Errorf("%s returned status %d: %s", model, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return generateResponse{}, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}
