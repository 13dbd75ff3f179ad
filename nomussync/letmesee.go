package nomussync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/letmesee/nomus_sync_backend/config"
)

// BillingAPI is the downstream Letmesee surface the sync needs: the tenant
// registry and the two bulk ingest endpoints.
type BillingAPI interface {
	ListTenants(ctx context.Context) ([]Tenant, error)
	SendInvoices(ctx context.Context, invoices []RequestInvoice) error
	SendCustomers(ctx context.Context, customers []RequestCustomer) error
}

type letmeseeClient struct {
	baseURL   string
	token     string
	batchSize int
	http      *http.Client
	logger    *logrus.Logger
}

func NewLetmeseeClient(opts config.SyncOptions) BillingAPI {
	return &letmeseeClient{
		baseURL:   strings.TrimRight(opts.LetmeseeBaseURL, "/"),
		token:     opts.LetmeseeToken,
		batchSize: opts.InvoiceBatchSize,
		http:      &http.Client{Timeout: opts.HTTPTimeout},
		logger:    config.GetLogger(),
	}
}

func (c *letmeseeClient) ListTenants(ctx context.Context) ([]Tenant, error) {
	body, err := c.do(ctx, http.MethodGet, "erp/nomus/listcustomers", nil)
	if err != nil {
		return nil, err
	}
	var tenants []Tenant
	if err := json.Unmarshal(body, &tenants); err != nil {
		return nil, fmt.Errorf("letmesee tenant list decode: %w", err)
	}
	return tenants, nil
}

func (c *letmeseeClient) SendInvoices(ctx context.Context, invoices []RequestInvoice) error {
	return postBatched(ctx, c, "CustomerInvoice/add-list", invoices)
}

func (c *letmeseeClient) SendCustomers(ctx context.Context, customers []RequestCustomer) error {
	return postBatched(ctx, c, "Customer/add-list", customers)
}

// postBatched splits records into batches and posts each as one JSON array.
// An empty input is a no-op.
func postBatched[T any](ctx context.Context, c *letmeseeClient, path string, records []T) error {
	if len(records) == 0 {
		return nil
	}
	size := c.batchSize
	if size <= 0 {
		size = 100
	}
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		payload, err := json.Marshal(records[start:end])
		if err != nil {
			return fmt.Errorf("letmesee %s encode: %w", path, err)
		}
		startedAt := time.Now()
		if _, err := c.do(ctx, http.MethodPost, path, payload); err != nil {
			return err
		}
		c.logger.WithFields(logrus.Fields{
			"path":     path,
			"records":  end - start,
			"duration": time.Since(startedAt).String(),
		}).Info("letmesee batch sent")
	}
	return nil
}

func (c *letmeseeClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("letmesee %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("letmesee %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
