// Package storage publishes token images and metadata documents through an
// uploader gateway in front of a content-addressed storage network.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/mintctl/service/engine"
	"github.com/brojonat/mintctl/service/metrics"
	"github.com/gabriel-vasile/mimetype"
)

// Top-ups target 6/5 of the quote, leaving headroom for price drift
// between quote and upload.
const (
	marginNumerator   = 6
	marginDenominator = 5
)

// Client talks to the uploader gateway. The gateway exposes:
//
//	GET  /price?bytes=N   -> {"lamports": "N"}
//	GET  /balance         -> {"lamports": "N"}
//	POST /fund            <- {"lamports": "N"}
//	POST /upload          <- raw body with Content-Type -> {"uri": "..."}
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewClient(baseURL, apiKey string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}
}

// Document is the off-chain metadata JSON in the Metaplex fungible-token
// standard.
type Document struct {
	Name        string     `json:"name"`
	Symbol      string     `json:"symbol"`
	Description string     `json:"description"`
	Image       string     `json:"image"`
	Properties  Properties `json:"properties"`
}

type Properties struct {
	Files    []File `json:"files"`
	Category string `json:"category"`
}

type File struct {
	URI  string `json:"uri"`
	Type string `json:"type"`
}

// Publish uploads the image, then the metadata document that references it.
// The balance is topped up first when it cannot cover both uploads.
func (c *Client) Publish(ctx context.Context, in engine.MetadataInput) (*engine.MetadataURIs, error) {
	mtype := mimetype.Detect(in.Image)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("image has content type %s: %w", mtype.String(), engine.ErrStorageUpload)
	}

	// The document size is estimated with a placeholder URI of typical
	// length; the margin covers the difference.
	estimate, err := json.Marshal(newDocument(in, strings.Repeat("x", 64), mtype.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := c.ensureFunded(ctx, uint64(len(in.Image)+len(estimate))); err != nil {
		return nil, err
	}

	imageURI, err := c.upload(ctx, in.Image, mtype.String())
	c.metrics.RecordStorageOperation("upload_image", err)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}

	doc, err := json.Marshal(newDocument(in, imageURI, mtype.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	metadataURI, err := c.upload(ctx, doc, "application/json")
	c.metrics.RecordStorageOperation("upload_metadata", err)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	c.logger.InfoContext(ctx, "token metadata published",
		"symbol", in.Symbol,
		"image_uri", imageURI,
		"metadata_uri", metadataURI,
	)
	return &engine.MetadataURIs{Image: imageURI, Metadata: metadataURI}, nil
}

func newDocument(in engine.MetadataInput, imageURI, contentType string) Document {
	return Document{
		Name:        in.Name,
		Symbol:      in.Symbol,
		Description: in.Description,
		Image:       imageURI,
		Properties: Properties{
			Files:    []File{{URI: imageURI, Type: contentType}},
			Category: "image",
		},
	}
}

// ensureFunded tops up the balance to ceil(quote × 1.2) when it
// is below the quote. Funding is never rolled back; the balance carries
// over to later uploads.
func (c *Client) ensureFunded(ctx context.Context, size uint64) error {
	quote, err := c.Price(ctx, size)
	c.metrics.RecordStorageOperation("quote", err)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrStorageQuote, err)
	}
	balance, err := c.Balance(ctx)
	c.metrics.RecordStorageOperation("balance", err)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrStorageQuote, err)
	}
	amount := FundingAmount(quote, balance)
	if amount == 0 {
		return nil
	}

	err = c.Fund(ctx, amount)
	c.metrics.RecordStorageOperation("fund", err)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrStorageFunding, err)
	}
	c.logger.InfoContext(ctx, "storage balance funded",
		"quote", quote,
		"balance", balance,
		"amount", amount,
	)
	return nil
}

// FundingAmount is how much to add to balance before paying quote: zero
// when the balance already covers it, else ceil(quote × 1.2) minus the
// balance.
func FundingAmount(quote, balance uint64) uint64 {
	if balance >= quote {
		return 0
	}
	target := new(big.Int).SetUint64(quote)
	target.Mul(target, big.NewInt(marginNumerator))
	target.Add(target, big.NewInt(marginDenominator-1))
	target.Div(target, big.NewInt(marginDenominator))
	target.Sub(target, new(big.Int).SetUint64(balance))
	if !target.IsUint64() {
		return ^uint64(0)
	}
	return target.Uint64()
}

// Price quotes the cost in lamports of storing size bytes.
func (c *Client) Price(ctx context.Context, size uint64) (uint64, error) {
	var out lamportsBody
	if err := c.do(ctx, http.MethodGet, "/price?bytes="+url.QueryEscape(strconv.FormatUint(size, 10)), nil, "", &out); err != nil {
		return 0, err
	}
	return out.value()
}

// Balance returns the prepaid storage balance in lamports.
func (c *Client) Balance(ctx context.Context) (uint64, error) {
	var out lamportsBody
	if err := c.do(ctx, http.MethodGet, "/balance", nil, "", &out); err != nil {
		return 0, err
	}
	return out.value()
}

// Fund adds lamports to the storage balance.
func (c *Client) Fund(ctx context.Context, lamports uint64) error {
	body, err := json.Marshal(lamportsBody{Lamports: strconv.FormatUint(lamports, 10)})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/fund", body, "application/json", nil)
}

func (c *Client) upload(ctx context.Context, data []byte, contentType string) (string, error) {
	var out struct {
		URI string `json:"uri"`
	}
	if err := c.do(ctx, http.MethodPost, "/upload", data, contentType, &out); err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrStorageUpload, err)
	}
	if out.URI == "" {
		return "", fmt.Errorf("%w: upload response has empty uri", engine.ErrStorageUpload)
	}
	return out.URI, nil
}

// lamportsBody carries amounts as decimal strings so they survive JSON
// number precision.
type lamportsBody struct {
	Lamports string `json:"lamports"`
}

func (b lamportsBody) value() (uint64, error) {
	v, err := strconv.ParseUint(b.Lamports, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid lamports %q: %w", b.Lamports, err)
	}
	return v, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("storage endpoint not configured")
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s failed: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
