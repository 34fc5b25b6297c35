package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/mangaforge/internal/config"
)

var (
	// ErrNoImage means the provider finished without an image payload.
	ErrNoImage = errors.New("provider returned no image")
	// ErrMalformedResponse means the provider answered with content that does not parse.
	ErrMalformedResponse = errors.New("malformed provider response")
)

const (
	createTaskPath      = "/api/v1/jobs/createTask"
	recordInfoPath      = "/api/v1/jobs/recordInfo"
	chatCompletionsPath = "/api/v1/chat/completions"

	maxImageBytes = 20 << 20
)

type Client struct {
	apiKey       string
	baseURL      string
	textModel    string
	imageModel   string
	httpClient   *http.Client
	log          *slog.Logger
	pollInterval time.Duration
	maxAttempts  int
	maxImage     int64
}

// Image is a finished render. Bytes and Mime are filled when the result could be downloaded.
type Image struct {
	URL   string
	Bytes []byte
	Mime  string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Client{
		apiKey:     cfg.GenAIAPIKey,
		baseURL:    strings.TrimRight(cfg.GenAIBaseURL, "/"),
		textModel:  cfg.GenAITextModel,
		imageModel: cfg.GenAIImageModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log:          log,
		pollInterval: 2 * time.Second,
		maxAttempts:  60,
		maxImage:     maxImageBytes,
	}
}

// renderImage creates an image task, waits for it and downloads the first result.
func (c *Client) renderImage(ctx context.Context, prompt, aspectRatio string) (*Image, error) {
	payload := map[string]any{
		"model": c.imageModel,
		"input": map[string]any{
			"prompt":        prompt,
			"aspect_ratio":  aspectRatio,
			"output_format": "png",
		},
	}

	taskID, err := c.createTask(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	img, err := c.pollTaskStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}

	data, mime, err := c.download(ctx, img.URL)
	if err != nil {
		if c.log != nil {
			c.log.Warn("download result image failed", "task_id", taskID, "error", err)
		}
		return img, nil
	}
	img.Bytes = data
	img.Mime = mime
	return img, nil
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	endpoint, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}
	return baseURL.ResolveReference(endpoint).String(), nil
}

func (c *Client) postJSON(ctx context.Context, fullURL string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post provider: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("provider request failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return nil, fmt.Errorf("provider error: status=%d url=%s body=%s", resp.StatusCode, fullURL, truncateBody(rawBody))
	}
	return rawBody, nil
}

// createTask creates a job and returns its taskId.
func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint(createTaskPath, nil)
	if err != nil {
		return "", err
	}

	if c.log != nil {
		c.log.Info("creating provider task", "url", fullURL, "model", getModelFromPayload(payload))
	}

	rawBody, err := c.postJSON(ctx, fullURL, payload)
	if err != nil {
		return "", err
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", ErrMalformedResponse, truncateBody(rawBody))
	}
	if createResp.Code != 200 {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response: %w", ErrMalformedResponse)
	}

	if c.log != nil {
		c.log.Info("provider task created", "task_id", createResp.Data.TaskID)
	}
	return createResp.Data.TaskID, nil
}

// pollTaskStatus waits for a task to reach a terminal state.
func (c *Client) pollTaskStatus(ctx context.Context, taskID string) (*Image, error) {
	fullURL, err := c.endpoint(recordInfoPath, url.Values{"taskId": []string{taskID}})
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("get task status: %w", err)
		}
		rawBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		if resp.StatusCode >= 300 {
			if c.log != nil {
				c.log.Error("poll task status failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
			}
			return nil, fmt.Errorf("provider error: status=%d url=%s body=%s", resp.StatusCode, fullURL, truncateBody(rawBody))
		}

		var statusResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				TaskID     string `json:"taskId"`
				State      string `json:"state"`
				ResultJSON string `json:"resultJson"`
				FailCode   string `json:"failCode"`
				FailMsg    string `json:"failMsg"`
			} `json:"data"`
		}
		if err := json.Unmarshal(rawBody, &statusResp); err != nil {
			return nil, fmt.Errorf("decode status response: %w (body=%s)", ErrMalformedResponse, truncateBody(rawBody))
		}
		if statusResp.Code != 200 {
			return nil, fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
		}

		switch state := statusResp.Data.State; state {
		case "success":
			if statusResp.Data.ResultJSON == "" {
				return nil, ErrNoImage
			}
			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
				return nil, fmt.Errorf("parse resultJson: %w", ErrMalformedResponse)
			}
			if len(result.ResultURLs) == 0 || result.ResultURLs[0] == "" {
				return nil, ErrNoImage
			}
			if c.log != nil {
				c.log.Info("provider task completed", "task_id", taskID, "attempt", attempt+1)
			}
			return &Image{URL: result.ResultURLs[0]}, nil

		case "fail":
			failMsg := statusResp.Data.FailMsg
			if failMsg == "" {
				failMsg = "unknown error"
			}
			if c.log != nil {
				c.log.Error("provider task failed", "task_id", taskID, "fail_code", statusResp.Data.FailCode, "fail_msg", failMsg)
			}
			return nil, fmt.Errorf("task failed: %s (code: %s)", failMsg, statusResp.Data.FailCode)

		case "waiting", "generating", "processing", "queued", "queueing":
			if c.log != nil && attempt%10 == 0 {
				c.log.Debug("provider task waiting", "task_id", taskID, "attempt", attempt+1, "max_attempts", c.maxAttempts)
			}
			if attempt < c.maxAttempts-1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(c.pollInterval):
					continue
				}
			}

		default:
			return nil, fmt.Errorf("unknown task state: %s", state)
		}
	}

	return nil, fmt.Errorf("task timeout after %d attempts", c.maxAttempts)
}

// complete runs a chat completion and returns the assistant message content.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	fullURL, err := c.endpoint(chatCompletionsPath, nil)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"model": c.textModel,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"response_format": map[string]string{"type": "json_object"},
	}
	rawBody, err := c.postJSON(ctx, fullURL, payload)
	if err != nil {
		return "", err
	}

	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawBody, &chatResp); err != nil {
		return "", fmt.Errorf("decode completion: %w (body=%s)", ErrMalformedResponse, truncateBody(rawBody))
	}
	if len(chatResp.Choices) == 0 || strings.TrimSpace(chatResp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty completion: %w", ErrMalformedResponse)
	}
	return stripCodeFence(chatResp.Choices[0].Message.Content), nil
}

func (c *Client) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download image: status=%d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxImage+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > c.maxImage {
		return nil, "", fmt.Errorf("read image: larger than %d bytes", c.maxImage)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

// stripCodeFence removes a ```json fence some models wrap JSON answers in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func getModelFromPayload(payload map[string]any) string {
	if model, ok := payload["model"].(string); ok {
		return model
	}
	return "unknown"
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
