package modelclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/tensor-trigger-worker/internal/worker/domain"
	"github.com/cuongbtq/tensor-trigger-worker/shared/s3"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	predictPath = "/v1/predict"
	trainPath   = "/v1/train"
	userHeader  = "X-Authenticated-Userid"

	defaultTimeout   = 5 * time.Minute
	defaultRetryWait = 500 * time.Millisecond
)

// Blobs is where model artifacts and job inputs are read from
type Blobs interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// Config holds model server settings
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration
}

// Client runs and trains models on an external model server
type Client struct {
	client *resty.Client
	blobs  Blobs
	keys   domain.BlobKeys
	logger *slog.Logger
}

// New creates a model server client. Retries apply to transport errors and 5xx responses.
func New(cfg *Config, blobs Blobs, keys domain.BlobKeys, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	retries := max(cfg.Retries, 0)
	wait := cfg.RetryWait
	if wait == 0 {
		wait = defaultRetryWait
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(wait).
		SetRetryMaxWaitTime(4 * wait).
		AddRetryCondition(func(res *resty.Response, err error) bool {
			return res != nil && res.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{
		client: client,
		blobs:  blobs,
		keys:   keys,
		logger: logger,
	}
}

type predictRequest struct {
	Model    string `json:"model"`
	InputCSV string `json:"input_csv"`
}

type predictResponse struct {
	Output any `json:"output"`
}

type trainRequest struct {
	Model         string               `json:"model"`
	Epochs        int                  `json:"epochs"`
	InputVectors  []map[string]float64 `json:"input_vectors"`
	OutputVectors [][]float64          `json:"output_vectors"`
}

type trainResponse struct {
	Model string `json:"model"`
}

// Run predicts on the job's input CSV. A missing model, missing input or a
// 404 from the model server yields a nil result.
func (c *Client) Run(ctx context.Context, modelID, jobID uuid.UUID, user string) (any, error) {
	model, err := c.download(ctx, c.keys.Model(modelID))
	if err != nil || model == nil {
		return nil, err
	}
	input, err := c.download(ctx, c.keys.Input(jobID))
	if err != nil || input == nil {
		return nil, err
	}

	var out predictResponse
	found, err := c.post(ctx, predictPath, user, predictRequest{
		Model:    base64.StdEncoding.EncodeToString(model),
		InputCSV: base64.StdEncoding.EncodeToString(input),
	}, &out)
	if err != nil || !found {
		return nil, err
	}
	return out.Output, nil
}

// Train trains the stored model and returns the new artifact. A missing model
// or a 404 from the model server yields a nil artifact.
func (c *Client) Train(ctx context.Context, req domain.TrainRequest) ([]byte, error) {
	model, err := c.download(ctx, c.keys.Model(req.ModelID))
	if err != nil || model == nil {
		return nil, err
	}

	var out trainResponse
	found, err := c.post(ctx, trainPath, req.User, trainRequest{
		Model:         base64.StdEncoding.EncodeToString(model),
		Epochs:        req.Epochs,
		InputVectors:  req.InputVectors,
		OutputVectors: req.OutputVectors,
	}, &out)
	if err != nil || !found {
		return nil, err
	}

	artifact, err := base64.StdEncoding.DecodeString(out.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to decode trained model: %w", err)
	}
	return artifact, nil
}

func (c *Client) download(ctx context.Context, key string) ([]byte, error) {
	data, err := c.blobs.Download(ctx, key)
	if err != nil {
		if errors.Is(err, s3.ErrObjectNotFound) {
			c.logger.Warn("Blob not found", slog.String("key", key))
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, endpoint, user string, body, result any) (bool, error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetHeader(userHeader, user).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return false, fmt.Errorf("model server request %s failed: %w", endpoint, err)
	}

	if res.StatusCode() == http.StatusNotFound {
		c.logger.Warn("Model server returned not found",
			slog.String("endpoint", endpoint),
			slog.String("body", res.String()),
		)
		return false, nil
	}
	if !res.IsSuccess() {
		return false, fmt.Errorf("model server %s returned %d: %s", endpoint, res.StatusCode(), res.String())
	}

	if err := json.Unmarshal(res.Body(), result); err != nil {
		return false, fmt.Errorf("error parsing response from model server: %w", err)
	}
	return true, nil
}
