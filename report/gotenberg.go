// Package report renders invoice documents through a Gotenberg instance.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	healthPath  = "/health"
	convertPath = "/forms/chromium/convert/html"
	// Gotenberg requires the entry document to be called index.html.
	indexFile = "index.html"
)

// PageOptions are the Chromium print settings sent with every conversion.
// Sizes are in inches.
type PageOptions struct {
	PaperWidth      string
	PaperHeight     string
	Margin          string
	PrintBackground bool
}

// A4 is the default page layout for invoices.
var A4 = PageOptions{PaperWidth: "8.27", PaperHeight: "11.7", Margin: "0.6", PrintBackground: true}

// Client renders HTML to PDF with Gotenberg.
type Client struct {
	baseURL    string
	page       PageOptions
	httpClient *http.Client
}

// NewClient builds a client for the Gotenberg instance at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		page:       A4,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithPage overrides the page layout.
func (c *Client) WithPage(page PageOptions) *Client {
	c.page = page
	return c
}

// Ping checks that Gotenberg answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("report: gotenberg health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("report: gotenberg health returned status %d", resp.StatusCode)
	}
	return nil
}

// RenderHTML converts an HTML document to PDF. It satisfies the billing
// PDF renderer port.
func (c *Client) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	body, contentType, err := c.form(html)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+convertPath, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("report: gotenberg convert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("report: gotenberg render failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) form(html string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", indexFile)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, "", err
	}
	fields := map[string]string{
		"paperWidth":      c.page.PaperWidth,
		"paperHeight":     c.page.PaperHeight,
		"marginTop":       c.page.Margin,
		"marginBottom":    c.page.Margin,
		"marginLeft":      c.page.Margin,
		"marginRight":     c.page.Margin,
		"printBackground": fmt.Sprintf("%t", c.page.PrintBackground),
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
