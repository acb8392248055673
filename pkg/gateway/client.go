package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/angelmondragon/commission-escrow/pkg/config"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
)

const (
	transferPath     = "/transfer"
	maxResponseBytes = 1 << 20
)

var (
	errBaseURLRequired   = errors.New("gateway base url is required")
	errSecretKeyRequired = errors.New("gateway secret key is required")
)

// TransferRequest moves amount minor units to a seller's recipient. Reference
// makes the call idempotent on the gateway side.
type TransferRequest struct {
	Destination string
	Amount      int64
	Currency    string
	Reference   string
	Reason      string
}

// TransferResult is what the gateway returns for an accepted transfer.
type TransferResult struct {
	TransferReference string
	Status            string
}

// Client talks to the payment gateway's transfer API.
type Client struct {
	http      *http.Client
	baseURL   string
	secretKey string
}

// NewClient builds a gateway client on a pooled cleanhttp transport.
func NewClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}

	httpClient := cleanhttp.DefaultPooledClient()
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}

	if logg != nil {
		logg.Info(ctx, "gateway client initialized")
	}

	return &Client{
		http:      httpClient,
		baseURL:   baseURL,
		secretKey: secretKey,
	}, nil
}

type transferBody struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type transferData struct {
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
}

// CreateTransfer submits a transfer. Failures wrap ErrTransient or
// ErrNonRetriable.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.Destination == "" || req.Reference == "" || req.Amount <= 0 {
		return nil, &APIError{kind: ErrNonRetriable, Message: "destination, reference and a positive amount are required"}
	}

	body, err := json.Marshal(transferBody{
		Source:    "balance",
		Amount:    req.Amount,
		Recipient: req.Destination,
		Currency:  req.Currency,
		Reference: req.Reference,
		Reason:    req.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}

	var data transferData
	if err := c.do(ctx, http.MethodPost, transferPath, body, &data); err != nil {
		return nil, err
	}

	ref := data.TransferCode
	if ref == "" {
		ref = data.Reference
	}
	return &TransferResult{TransferReference: ref, Status: data.Status}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &APIError{kind: ErrTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &APIError{kind: ErrTransient, StatusCode: resp.StatusCode, Message: "read response: " + err.Error()}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return NewAPIError(resp.StatusCode, msg, parseRetryAfter(resp.Header.Get("Retry-After")))
	}
	if decodeErr != nil {
		return &APIError{kind: ErrTransient, StatusCode: resp.StatusCode, Message: "decode response: " + decodeErr.Error()}
	}
	if !env.Status {
		return &APIError{kind: ErrNonRetriable, StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &APIError{kind: ErrTransient, StatusCode: resp.StatusCode, Message: "decode data: " + err.Error()}
		}
	}
	return nil
}

// Timeout reports the per-request timeout in use.
func (c *Client) Timeout() time.Duration {
	if c == nil || c.http == nil {
		return 0
	}
	return c.http.Timeout
}
