package comfy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"relight/internal/domain"
	"relight/internal/infra"
)

// ErrTimeout is returned when the backend does not finish a prompt in time.
var ErrTimeout = errors.New("comfy: timed out waiting for outputs")

// Options configures the ComfyUI backend client.
type Options struct {
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	PollInterval   time.Duration
	ProcessTimeout time.Duration
	Logger         *infra.Logger
}

// Client talks to a ComfyUI-compatible image-processing backend.
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	pollInterval   time.Duration
	processTimeout time.Duration
	clientID       string
	logger         *infra.Logger
}

// NewClient constructs a backend client with defaults applied.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8188"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	processTimeout := opts.ProcessTimeout
	if processTimeout <= 0 {
		processTimeout = 10 * time.Minute
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		baseURL:        baseURL,
		apiKey:         strings.TrimSpace(opts.APIKey),
		httpClient:     httpClient,
		pollInterval:   poll,
		processTimeout: processTimeout,
		clientID:       uuid.NewString(),
		logger:         logger,
	}
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping checks that the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/system_stats", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comfy: ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("comfy: ping status %d", resp.StatusCode)
	}
	return nil
}

// UploadImage stores data in the backend's input directory under name.
func (c *Client) UploadImage(ctx context.Context, name string, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", name)
	if err != nil {
		return fmt.Errorf("comfy: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("comfy: build upload: %w", err)
	}
	_ = mw.WriteField("overwrite", "true")
	_ = mw.WriteField("type", "input")
	if err := mw.Close(); err != nil {
		return fmt.Errorf("comfy: build upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload/image", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comfy: upload %s: %w", name, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("comfy: upload %s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	c.logger.Debug().Str("name", name).Int("bytes", len(data)).Msg("comfy: uploaded image")
	return nil
}

type queueRequest struct {
	Prompt   workflow `json:"prompt"`
	ClientID string   `json:"client_id"`
}

type queueResponse struct {
	PromptID   string          `json:"prompt_id"`
	Error      json.RawMessage `json:"error"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []imageRef `json:"images"`
	} `json:"outputs"`
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
		Messages  []any  `json:"messages"`
	} `json:"status"`
}

type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Process queues the relight workflow, waits for it to finish and returns
// the generated images as base64.
func (c *Client) Process(ctx context.Context, req ProcessRequest) ([]domain.OutputImage, error) {
	wf, err := buildWorkflow(req)
	if err != nil {
		return nil, err
	}
	promptID, err := c.queue(ctx, wf)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("prompt_id", promptID).Msg("comfy: prompt queued")

	entry, err := c.waitForHistory(ctx, promptID)
	if err != nil {
		return nil, err
	}

	var images []domain.OutputImage
	for _, nodeID := range sortedKeys(entry.Outputs) {
		for _, ref := range entry.Outputs[nodeID].Images {
			if ref.Type == "temp" {
				continue
			}
			data, err := c.view(ctx, ref)
			if err != nil {
				return nil, err
			}
			images = append(images, domain.OutputImage{
				Filename: ref.Filename,
				Type:     "base64",
				Data:     base64.StdEncoding.EncodeToString(data),
			})
		}
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: prompt %s produced no images", domain.ErrBackend, promptID)
	}
	return images, nil
}

func (c *Client) queue(ctx context.Context, wf workflow) (string, error) {
	body, err := json.Marshal(queueRequest{Prompt: wf, ClientID: c.clientID})
	if err != nil {
		return "", fmt.Errorf("comfy: encode prompt: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("comfy: queue prompt: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("comfy: read queue response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: queue status %d: %s", domain.ErrBackend, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out queueResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("comfy: decode queue response: %w", err)
	}
	if hasContent(out.Error) {
		return "", fmt.Errorf("%w: %s", domain.ErrBackend, string(out.Error))
	}
	if out.PromptID == "" {
		return "", fmt.Errorf("%w: missing prompt_id", domain.ErrBackend)
	}
	return out.PromptID, nil
}

func (c *Client) waitForHistory(ctx context.Context, promptID string) (*historyEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.processTimeout)
	defer cancel()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		entry, err := c.history(ctx, promptID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			if entry.Status.StatusStr == "error" {
				return nil, fmt.Errorf("%w: prompt %s failed", domain.ErrBackend, promptID)
			}
			if len(entry.Outputs) > 0 || entry.Status.Completed {
				return entry, nil
			}
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w (prompt %s)", ErrTimeout, promptID)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) history(ctx context.Context, promptID string) (*historyEntry, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("comfy: history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: history status %d", domain.ErrBackend, resp.StatusCode)
	}
	var out map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("comfy: decode history: %w", err)
	}
	entry, ok := out[promptID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (c *Client) view(ctx context.Context, ref imageRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)
	req, err := c.newRequest(ctx, http.MethodGet, "/view?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfy: view %s: %w", ref.Filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: view %s status %d", domain.ErrBackend, ref.Filename, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("comfy: read %s: %w", ref.Filename, err)
	}
	return data, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("comfy: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func hasContent(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null" && trimmed != "{}" && trimmed != `""`
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
