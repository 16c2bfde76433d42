// Package client implements index.Store against a remote index server.
// Network failures and 5xx answers are transient; 4xx answers are marked
// permanent so callers do not retry them.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index/server"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  slog.Default().With("component", "index-client", "url", baseURL),
	}
}

func (c *Client) Index(ctx context.Context, doc index.Document) (string, error) {
	var resp server.IndexResponse
	if err := c.do(ctx, http.MethodPost, "/documents", doc, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) Bulk(ctx context.Context, docs []index.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/documents/_bulk", server.BulkRequest{Documents: docs}, nil)
}

func (c *Client) Search(ctx context.Context, q index.Query) ([]index.Document, error) {
	var resp server.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/_search", q, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

func (c *Client) Count(ctx context.Context) (uint64, error) {
	var resp server.CountResponse
	if err := c.do(ctx, http.MethodGet, "/_count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return apperrors.Permanent(fmt.Errorf("encoding %s request: %w", path, err))
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.Permanent(fmt.Errorf("building %s request: %w", path, err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", apperrors.ErrIndexUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		err := fmt.Errorf("%w: %s %s: status %d: %s", apperrors.ErrIndexWrite, method, path, resp.StatusCode, e.Error)
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: %s %s: status %d: %s", apperrors.ErrIndexUnavailable, method, path, resp.StatusCode, e.Error)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
			return err
		default:
			return apperrors.Permanent(err)
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", apperrors.ErrIndexUnavailable, path, err)
	}
	return nil
}

var _ index.Store = (*Client)(nil)
