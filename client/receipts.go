// Package client talks to the receipts backend over HTTP.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/mintctl/service/engine"
)

// ErrNotFound is returned when the server has no such receipt.
var ErrNotFound = errors.New("receipt not found")

// Verification states reported by the server.
const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusRejected = "rejected"
)

// Receipt is a receipt as stored and served by the backend.
type Receipt struct {
	Network            string          `json:"network"`
	Signature          string          `json:"signature"`
	Operation          string          `json:"operation"`
	Owner              string          `json:"owner"`
	Mint               *string         `json:"mint,omitempty"`
	Account            *string         `json:"account,omitempty"`
	Variant            string          `json:"variant"`
	Params             json.RawMessage `json:"params,omitempty"`
	Touched            []string        `json:"touched,omitempty"`
	FeeLamports        int64           `json:"fee_lamports"`
	Slot               int64           `json:"slot"`
	SubmittedAt        time.Time       `json:"submitted_at"`
	ConfirmedAt        time.Time       `json:"confirmed_at"`
	VerificationStatus string          `json:"verification_status"`
	VerificationReason *string         `json:"verification_reason,omitempty"`
	VerifiedAt         *time.Time      `json:"verified_at,omitempty"`
	ExplorerURL        string          `json:"explorer_url,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Settled reports whether verification has finished.
func (r *Receipt) Settled() bool {
	return r.VerificationStatus == StatusVerified || r.VerificationStatus == StatusRejected
}

// ReceiptPage is one page of an owner's receipts.
type ReceiptPage struct {
	Receipts []*Receipt `json:"receipts"`
	Count    int        `json:"count"`
	Total    int64      `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}

// ListOptions filters List. Zero values use the server defaults.
type ListOptions struct {
	Network string
	Limit   int
	Offset  int
}

// Client is the HTTP client for the receipts backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new receipts client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

var _ engine.Reporter = (*Client)(nil)

// Report sends a confirmed receipt to the backend. A receipt the server
// already holds is accepted as well.
func (c *Client) Report(ctx context.Context, cred engine.Credential, receipt engine.Receipt) error {
	if cred.Token == "" {
		return errors.New("credential has no token")
	}

	body, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/receipts", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		c.logger.DebugContext(ctx, "receipt reported", "signature", receipt.Signature)
	case http.StatusOK:
		c.logger.DebugContext(ctx, "receipt already reported", "signature", receipt.Signature)
	default:
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Get retrieves one receipt. An empty network uses the server default.
func (c *Client) Get(ctx context.Context, network, signature string) (*Receipt, error) {
	u := fmt.Sprintf("%s/api/v1/receipts/%s", c.baseURL, url.PathEscape(signature))
	if network != "" {
		u += "?" + url.Values{"network": {network}}.Encode()
	}

	var receipt Receipt
	if err := c.getJSON(ctx, u, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// List retrieves a page of an owner's receipts, newest first.
func (c *Client) List(ctx context.Context, owner string, opts ListOptions) (*ReceiptPage, error) {
	q := url.Values{"owner": {owner}}
	if opts.Network != "" {
		q.Set("network", opts.Network)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var page ReceiptPage
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/receipts?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// QRCode fetches the PNG QR code linking a receipt on the block explorer.
func (c *Client) QRCode(ctx context.Context, network, signature string) ([]byte, error) {
	u := fmt.Sprintf("%s/api/v1/receipts/%s/qr", c.baseURL, url.PathEscape(signature))
	if network != "" {
		u += "?" + url.Values{"network": {network}}.Encode()
	}

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}
	return io.ReadAll(resp.Body)
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, c.baseURL+"/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Await blocks until the receipt with the given signature has been verified
// or rejected, or ctx is done. It first checks the stored receipt, then
// follows the owner's receipt stream.
func (c *Client) Await(ctx context.Context, owner, network, signature string) (*Receipt, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before checking the stored state so the transition cannot be
	// missed between the two.
	u := fmt.Sprintf("%s/api/v1/stream/receipts/%s", c.baseURL, url.PathEscape(owner))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream stays open, so the client timeout must not apply.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to receipt stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	stored, err := c.Get(ctx, network, signature)
	switch {
	case err == nil && stored.Settled():
		return stored, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, err
	}

	c.logger.DebugContext(ctx, "waiting for receipt verification", "signature", signature)

	events := make(chan *Receipt)
	errc := make(chan error, 1)
	go func() {
		errc <- readReceiptEvents(ctx, resp.Body, events)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-errc:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err == nil {
				err = errors.New("receipt stream closed")
			}
			return nil, err
		case ev := <-events:
			if ev.Signature != signature || (network != "" && ev.Network != network) {
				continue
			}
			if ev.Settled() {
				return ev, nil
			}
		}
	}
}

// readReceiptEvents parses "receipt" events from an SSE stream. It returns
// nil when the stream ends.
func readReceiptEvents(ctx context.Context, r io.Reader, out chan<- *Receipt) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "receipt" && data.Len() > 0 {
				var receipt Receipt
				if err := json.Unmarshal([]byte(data.String()), &receipt); err == nil {
					select {
					case out <- &receipt:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return scanner.Err()
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	resp, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
