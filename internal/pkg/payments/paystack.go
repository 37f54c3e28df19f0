package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/venuekey/venuekey/internal/pkg/env"
)

const defaultPaystackBaseURL = "https://api.paystack.co"

const (
	// TransactionSuccess is the gateway status reconciliation filters on.
	TransactionSuccess = "success"

	defaultHTTPTimeout = 15 * time.Second
	defaultMaxRetries  = 2
	defaultRetryDelay  = 1500 * time.Millisecond
)

// PaystackClient talks to the Paystack REST API with a bearer secret key.
// Transient network failures are retried a fixed number of times; HTTP-level
// rejections are not (a 401 will not get better by asking again).
type PaystackClient struct {
	SecretKey string
	BaseURL   string

	HTTPClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
}

func NewPaystackClientFromEnv() *PaystackClient {
	return &PaystackClient{
		SecretKey: strings.TrimSpace(env.GetEnv("PAYSTACK_SECRET_KEY", "")),
		BaseURL:   strings.TrimRight(env.GetEnv("PAYSTACK_BASE_URL", defaultPaystackBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		MaxRetries: defaultMaxRetries,
		RetryDelay: defaultRetryDelay,
	}
}

// Transaction is one gateway charge. Amount is in minor currency units
// (kobo/cents) exactly as the gateway reports it.
type Transaction struct {
	ID          int64      `json:"id"`
	Reference   string     `json:"reference"`
	AmountMinor int64      `json:"amount"`
	Status      string     `json:"status"`
	PaidAt      *time.Time `json:"paid_at"`
	Customer    struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// ListMeta is the gateway's pagination envelope.
type ListMeta struct {
	Total     int `json:"total"`
	Page      int `json:"page"`
	PageCount int `json:"pageCount"`
}

// InitializedTransaction is the hosted-checkout handle for a new charge.
type InitializedTransaction struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    *ListMeta       `json:"meta"`
}

// ListTransactions fetches one page of a customer's transactions, optionally
// filtered by status.
func (c *PaystackClient) ListTransactions(ctx context.Context, customer string, page, pageSize int, status string) ([]Transaction, *ListMeta, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	q := url.Values{}
	q.Set("customer", strings.TrimSpace(customer))
	q.Set("page", strconv.Itoa(page))
	q.Set("perPage", strconv.Itoa(pageSize))
	if status != "" {
		q.Set("status", status)
	}

	out, err := c.get(ctx, "/transaction?"+q.Encode())
	if err != nil {
		return nil, nil, err
	}

	var txns []Transaction
	if err := json.Unmarshal(out.Data, &txns); err != nil {
		return nil, nil, fmt.Errorf("paystack transaction list decode failed: %w", err)
	}
	meta := out.Meta
	if meta == nil {
		meta = &ListMeta{Total: len(txns), Page: page, PageCount: 1}
	}
	return txns, meta, nil
}

// VerifyTransaction fetches the current state of a single charge by reference.
func (c *PaystackClient) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.New("transaction reference is required")
	}

	out, err := c.get(ctx, "/transaction/verify/"+url.PathEscape(reference))
	if err != nil {
		return nil, err
	}

	var txn Transaction
	if err := json.Unmarshal(out.Data, &txn); err != nil {
		return nil, fmt.Errorf("paystack verify decode failed: %w", err)
	}
	return &txn, nil
}

// InitializeTransaction creates a hosted-checkout charge and returns the URL
// the payer should be redirected to.
func (c *PaystackClient) InitializeTransaction(ctx context.Context, email string, amountMinor int64, reference, callbackURL string) (*InitializedTransaction, error) {
	if strings.TrimSpace(email) == "" {
		return nil, errors.New("payer email is required")
	}
	if amountMinor < 1 {
		return nil, fmt.Errorf("invalid charge amount %d", amountMinor)
	}

	payload := map[string]interface{}{
		"email":     strings.TrimSpace(email),
		"amount":    amountMinor,
		"reference": strings.TrimSpace(reference),
	}
	if callbackURL != "" {
		payload["callback_url"] = callbackURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	out, err := c.do(ctx, http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return nil, err
	}

	var init InitializedTransaction
	if err := json.Unmarshal(out.Data, &init); err != nil {
		return nil, fmt.Errorf("paystack initialize decode failed: %w", err)
	}
	if strings.TrimSpace(init.AuthorizationURL) == "" {
		return nil, errors.New("paystack initialize returned empty authorization_url")
	}
	return &init, nil
}

func (c *PaystackClient) get(ctx context.Context, path string) (*apiEnvelope, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *PaystackClient) do(ctx context.Context, method, path string, body []byte) (*apiEnvelope, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, errors.New("PAYSTACK_SECRET_KEY is not configured")
	}

	attempts := c.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay()):
			}
		}

		out, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			return out, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("paystack request failed after %d attempts: %w", attempts, lastErr)
}

func (c *PaystackClient) doOnce(ctx context.Context, method, path string, body []byte) (*apiEnvelope, error) {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apiError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out apiEnvelope
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("paystack response decode failed: %w", err)
	}
	if !out.Status {
		return nil, &apiError{StatusCode: resp.StatusCode, Body: out.Message}
	}
	return &out, nil
}

func (c *PaystackClient) baseURL() string {
	if c.BaseURL == "" {
		return defaultPaystackBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *PaystackClient) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return &http.Client{Timeout: defaultHTTPTimeout}
	}
	return c.HTTPClient
}

func (c *PaystackClient) retryDelay() time.Duration {
	if c.RetryDelay <= 0 {
		return defaultRetryDelay
	}
	return c.RetryDelay
}

// apiError is an HTTP-level rejection from the gateway. Never retried.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("paystack request rejected: status=%d body=%s", e.StatusCode, e.Body)
}

// isTransient reports whether the failure is a network/timeout condition
// worth retrying. Gateway rejections and context cancellation are not.
func isTransient(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
