package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/charge-orchestrator/internal/core/common/money"
)

const (
	defaultTimeout           = 30 * time.Second
	defaultMaxNetworkRetries = 2
	defaultRetryBackoff      = 250 * time.Millisecond
	currency                 = "USD"
)

// Client talks to one external processor over HTTP. Every submission carries a caller supplied
// reference, so resending the same request after a network failure cannot create a second charge.
type Client struct {
	name              string
	baseURL           string
	clientID          string
	apiKey            string
	settlementAccount string
	timeout           time.Duration
	maxNetworkRetries int
	retryBackoff      time.Duration
	ambiguous         []AmbiguousSignature
	httpClient        *http.Client
	logger            *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	maxRetries := config.MaxNetworkRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxNetworkRetries
	}

	backoff := config.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	ambiguous := config.AmbiguousSignatures
	if len(ambiguous) == 0 {
		ambiguous = []AmbiguousSignature{{HTTPStatus: http.StatusInternalServerError}}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		name:              config.Name,
		baseURL:           strings.TrimRight(config.BaseURL, "/"),
		clientID:          config.ClientID,
		apiKey:            config.APIKey,
		settlementAccount: config.SettlementAccount,
		timeout:           timeout,
		maxNetworkRetries: maxRetries,
		retryBackoff:      backoff,
		ambiguous:         ambiguous,
		httpClient:        httpClient,
		logger:            logger.With("processor", config.Name),
	}
}

func (c *Client) Name() string {
	return c.name
}

// Charge submits one money movement. If the processor rejects the correspondence id, the charge is
// resubmitted once without it under a reference derived from the original one.
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := req.Validate(); err != nil {
		c.logger.Error("charge request validation failed", "reference_id", req.ReferenceID, "error", err)
		return nil, err
	}

	result, err := c.submit(ctx, req)
	if err == nil {
		return result, nil
	}

	var perr *Error
	if req.CorrespondenceID == "" || !errors.As(err, &perr) || !perr.IsBadCorrespondence() {
		return nil, err
	}

	retryReq := req
	retryReq.CorrespondenceID = ""
	retryReq.ReferenceID = ResubmitReferenceID(req.ReferenceID)

	c.logger.Warn("correspondence id rejected, resubmitting without it",
		"reference_id", req.ReferenceID,
		"retry_reference_id", retryReq.ReferenceID,
		"correspondence_id", req.CorrespondenceID)

	return c.submit(ctx, retryReq)
}

// GetStatus returns the processor's view of a previously submitted reference.
func (c *Client) GetStatus(ctx context.Context, referenceID string) (*ChargeResult, error) {
	endpoint := fmt.Sprintf("%s/v1/transactions/%s", c.baseURL, url.PathEscape(referenceID))

	raw, err := c.doWithRetry(ctx, http.MethodGet, endpoint, nil, referenceID)
	if err != nil {
		return nil, err
	}

	if raw.statusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, referenceID)
	}

	return c.parse(raw, referenceID)
}

func (c *Client) submit(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	txType := req.Type
	if txType == "" {
		txType = TransactionPull
	}
	destination := req.DestinationToken
	if destination == "" {
		destination = c.settlementAccount
	}

	payload := transactionRequest{
		ReferenceID: req.ReferenceID,
		Type:        txType,
		Accounts: transactionAccounts{
			SourceAccount:      req.SourceToken,
			DestinationAccount: destination,
		},
		Currency:         currency,
		Amount:           money.Wire(req.Amount),
		CorrespondenceID: req.CorrespondenceID,
		Recurring:        req.Recurring,
		Options:          req.Extra,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	c.logger.Info("submitting charge",
		"reference_id", req.ReferenceID,
		"amount", payload.Amount,
		"recurring", req.Recurring,
		"has_correspondence", req.CorrespondenceID != "")

	raw, err := c.doWithRetry(ctx, http.MethodPost, c.baseURL+"/v1/transactions", body, req.ReferenceID)
	if err != nil {
		return nil, err
	}

	return c.parse(raw, req.ReferenceID)
}

type rawResponse struct {
	statusCode int
	body       []byte
}

// doWithRetry resends the request only when no HTTP response came back at all.
func (c *Client) doWithRetry(ctx context.Context, method, endpoint string, body []byte, referenceID string) (*rawResponse, error) {
	var (
		resp     *rawResponse
		attempts int
	)

	backoff := retry.WithMaxRetries(uint64(c.maxNetworkRetries), retry.NewConstant(c.retryBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		r, err := c.send(ctx, method, endpoint, body)
		if err != nil {
			c.logger.Warn("processor request failed",
				"reference_id", referenceID,
				"attempt", attempts,
				"error", err)
			return retry.RetryableError(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, &Error{
			Gateway:     c.name,
			ReferenceID: referenceID,
			Transport:   true,
			Dial:        isDialError(err),
			Attempts:    attempts,
			Cause:       err,
		}
	}

	return resp, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body []byte) (*rawResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.clientID != "" {
		httpReq.Header.Set("X-Client-ID", c.clientID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &rawResponse{statusCode: resp.StatusCode, body: data}, nil
}

func (c *Client) parse(raw *rawResponse, referenceID string) (*ChargeResult, error) {
	if raw.statusCode < 200 || raw.statusCode >= 300 {
		return nil, c.errorFromResponse(raw, referenceID)
	}

	var tx transactionResponse
	if err := json.Unmarshal(raw.body, &tx); err != nil {
		return nil, &Error{
			Gateway:     c.name,
			HTTPStatus:  raw.statusCode,
			ReferenceID: referenceID,
			EM:          "undecodable processor response",
			Ambiguous:   true,
			Cause:       err,
		}
	}

	if tx.ReferenceID == "" {
		tx.ReferenceID = referenceID
	}

	status, err := c.mapStatus(tx, raw.statusCode)
	if err != nil {
		return nil, err
	}

	amount := decimal.Zero
	if tx.Amount != "" {
		if parsed, err := money.Parse(tx.Amount); err == nil {
			amount = parsed
		}
	}

	return &ChargeResult{
		TransactionID: tx.TransactionID,
		ReferenceID:   tx.ReferenceID,
		Status:        status,
		Network:       tx.Network,
		NetworkRC:     tx.NetworkRC,
		Amount:        amount,
		Processor:     c.name,
		Raw:           json.RawMessage(raw.body),
	}, nil
}

func (c *Client) mapStatus(tx transactionResponse, httpStatus int) (Status, error) {
	switch strings.ToUpper(tx.Status) {
	case "COMPLETED":
		return StatusCompleted, nil
	case "PENDING":
		return StatusPending, nil
	case "UNKNOWN":
		return StatusUnknown, nil
	case "RETURNED":
		return StatusReturned, nil
	case "CANCELED", "CANCELLED":
		return StatusCanceled, nil
	case "ERROR", "FAILED":
		gateway := tx.Network
		if gateway == "" {
			gateway = c.name
		}
		return "", &Error{
			Gateway:     gateway,
			HTTPStatus:  httpStatus,
			EC:          tx.ErrorCode,
			EM:          tx.Message,
			NetworkRC:   tx.NetworkRC,
			Status:      strings.ToUpper(tx.Status),
			ReferenceID: tx.ReferenceID,
		}
	default:
		c.logger.Warn("unrecognized processor status, treating as unknown",
			"reference_id", tx.ReferenceID,
			"status", tx.Status)
		return StatusUnknown, nil
	}
}

func (c *Client) errorFromResponse(raw *rawResponse, referenceID string) *Error {
	var body errorBody
	if len(raw.body) > 0 {
		if err := json.Unmarshal(raw.body, &body); err != nil {
			body.EM = strings.TrimSpace(string(raw.body))
		}
	}

	gateway := body.Gateway
	if gateway == "" {
		gateway = c.name
	}

	perr := &Error{
		Gateway:     gateway,
		HTTPStatus:  raw.statusCode,
		SC:          body.SC,
		EC:          body.EC,
		EM:          body.EM,
		NetworkRC:   body.NetworkRC,
		ReferenceID: referenceID,
	}

	for _, sig := range c.ambiguous {
		if sig.Matches(gateway, raw.statusCode) {
			perr.Ambiguous = true
			break
		}
	}

	c.logger.Warn("processor rejected request",
		"reference_id", referenceID,
		"http_status", raw.statusCode,
		"ec", body.EC,
		"network_rc", body.NetworkRC,
		"ambiguous", perr.Ambiguous)

	return perr
}

func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
