package forensics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/image-detection/internal/logging"
)

// Model names a scoring dimension offered by the forensics API.
type Model string

// Recognized forensics models.
const (
	ModelDeepfake Model = "deepfake"
	ModelGenAI    Model = "genai"
	ModelQuality  Model = "quality"
	ModelScam     Model = "scam"
)

// ModelResult is the raw per-model response from the upstream API, or an
// error-tagged placeholder when the call itself failed. The upstream schema
// is opaque to us; the report formatter digs out the few keys it knows.
type ModelResult map[string]interface{}

// Analysis aggregates the four per-model results for one image.
type Analysis struct {
	ImageSource string      `json:"image_source"`
	Status      string      `json:"status"`
	Deepfake    ModelResult `json:"deepfake"`
	AIGenerated ModelResult `json:"ai_generated"`
	Quality     ModelResult `json:"quality"`
	Scammer     ModelResult `json:"scammer"`
}

// Client talks to the image forensics scoring endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiUser    string
	apiSecret  string
	logger     *zap.Logger
}

// NewClient constructs a forensics client with the fixed upstream timeout.
func NewClient(baseURL, apiUser, apiSecret string, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiUser:    apiUser,
		apiSecret:  apiSecret,
		logger:     logger.Named("forensics_client"),
	}
}

// Score runs one model against an image source, which is either a remote URL
// or a local file path. Transport failures, non-2xx statuses, and malformed
// responses are embedded as error-tagged results rather than returned as
// errors; the aggregate report still renders around them.
func (c *Client) Score(ctx context.Context, imageSource string, model Model) ModelResult {
	var (
		result ModelResult
		err    error
	)
	if isURL(imageSource) {
		result, err = c.scoreURL(ctx, imageSource, model)
	} else {
		result, err = c.scoreFile(ctx, imageSource, model)
	}
	if err != nil {
		wrapped := logging.NewOperationError("forensics.score", "", err)
		c.logger.Warn("model scoring failed",
			zap.Error(wrapped),
			zap.String("model", string(model)),
			zap.String("image_source", imageSource),
		)
		return errorResult(model, err)
	}
	return result
}

// Analyze runs the full model sweep sequentially and aggregates the results.
// Per-model failures are embedded; the aggregate is always tagged success.
func (c *Client) Analyze(ctx context.Context, imageSource string) *Analysis {
	opLogger := logging.WithOperation(c.logger, "forensics.analyze", "")
	opLogger.Info("analyzing image", zap.String("image_source", imageSource))

	analysis := &Analysis{
		ImageSource: imageSource,
		Status:      "success",
		Deepfake:    c.Score(ctx, imageSource, ModelDeepfake),
		AIGenerated: c.Score(ctx, imageSource, ModelGenAI),
		Quality:     c.Score(ctx, imageSource, ModelQuality),
		Scammer:     c.Score(ctx, imageSource, ModelScam),
	}

	opLogger.Info("analysis complete", zap.String("image_source", imageSource))
	return analysis
}

func (c *Client) scoreURL(ctx context.Context, imageURL string, model Model) (ModelResult, error) {
	params := url.Values{}
	params.Set("models", string(model))
	params.Set("api_user", c.apiUser)
	params.Set("api_secret", c.apiSecret)
	params.Set("url", imageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) scoreFile(ctx context.Context, imagePath string, model Model) (ModelResult, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("media", filepath.Base(imagePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, err
	}
	for key, value := range map[string]string{
		"models":     string(model),
		"api_user":   c.apiUser,
		"api_secret": c.apiSecret,
	} {
		if err := writer.WriteField(key, value); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req)
}

func (c *Client) do(req *http.Request) (ModelResult, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var result ModelResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func errorResult(model Model, err error) ModelResult {
	return ModelResult{
		"status": "error",
		"error":  err.Error(),
		"model":  string(model),
	}
}
