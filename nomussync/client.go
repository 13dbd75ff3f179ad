package nomussync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"bitbucket.org/letmesee/nomus_sync_backend/config"
)

var (
	ErrFetchFailed        = errors.New("nomus fetch failed")
	ErrRateLimitExhausted = errors.New("nomus rate limit not released")
	ErrDeserializeFailed  = errors.New("nomus response deserialize failed")
	ErrCircuitOpen        = errors.New("nomus circuit open")
)

// maxPages is a hard ceiling per resource fetch. Hitting it means the ERP is
// returning more pages than any real tenant has; the partial result is kept
// and a warning logged.
const maxPages = 100

// rateLimitAttempts bounds how many consecutive 429 responses a single page
// request tolerates before giving up.
const rateLimitAttempts = 5

const defaultRateLimitWait = 5 * time.Second

type resourceEndpoint struct {
	name      string
	path      string
	query     string
	pageParam string
}

type tenantEndpoints struct {
	customers   resourceEndpoint
	receivables resourceEndpoint
	slips       resourceEndpoint
	payments    resourceEndpoint
}

// endpointsFor builds the four Nomus resource endpoints for one run. Query
// predicates are pre-encoded by the ERP's convention; incremental runs are
// bounded at the previous calendar day so a run that crosses midnight still
// overlaps its predecessor.
func endpointsFor(fullSync bool, now time.Time) tenantEndpoints {
	since := now.AddDate(0, 0, -1).Format("02/01/2006")
	customers := resourceEndpoint{
		name:      "customers",
		path:      "rest/clientes",
		query:     "query=ativo%3Dtrue",
		pageParam: "page",
	}
	receivables := resourceEndpoint{
		name:      "receivables",
		path:      "rest/contasReceber",
		pageParam: "page",
	}
	slips := resourceEndpoint{
		name:      "bankslips",
		path:      "rest/boletos",
		pageParam: "page",
	}
	payments := resourceEndpoint{
		name:      "payments",
		path:      "rest/recebimentos",
		pageParam: "page",
	}
	if !fullSync {
		receivables.query = "query=dataCompetencia%3E%3D" + since
		slips.query = "query=dataHoraEmissao%3E%3D" + since
		payments.query = "query=dataRecebimento%3E%3D" + since
		customers.query = customers.query + "%3BdataCriacao%3E%3D" + since
	}
	return tenantEndpoints{
		customers:   customers,
		receivables: receivables,
		slips:       slips,
		payments:    payments,
	}
}

// pageURL appends the page parameter with the right joiner for the endpoint's
// existing query string.
func pageURL(base string, ep resourceEndpoint, page int) string {
	u := strings.TrimRight(base, "/") + "/" + ep.path
	joiner := "?"
	if ep.query != "" {
		u = u + "?" + ep.query
		joiner = "&"
	}
	return fmt.Sprintf("%s%s%s=%d", u, joiner, ep.pageParam, page)
}

type nomusClient struct {
	baseURL    string
	token      string
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker
	retryCount int
	logger     *logrus.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func newNomusClient(tenant Tenant, opts config.SyncOptions) *nomusClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     fmt.Sprintf("nomus-tenant-%d", tenant.GroupId),
		Interval: 30 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > 0.5
		},
	})
	return &nomusClient{
		baseURL:    tenant.BaseUrl,
		token:      tenant.HashToken,
		http:       &http.Client{Timeout: opts.HTTPTimeout},
		breaker:    breaker,
		retryCount: opts.RetryCount,
		logger:     config.GetLogger(),
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type rateLimitBody struct {
	TempoAteLiberar *float64 `json:"tempoAteLiberar"`
}

// fetchPage performs one page request through the breaker, waiting out 429
// responses up to rateLimitAttempts times.
func (c *nomusClient) fetchPage(ctx context.Context, ep resourceEndpoint, page int) ([]byte, error) {
	endpoint := pageURL(c.baseURL, ep, page)
	for attempt := 0; attempt < rateLimitAttempts; attempt++ {
		body, retryAfter, err := c.doThroughBreaker(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		if retryAfter <= 0 {
			return body, nil
		}
		c.logger.WithFields(logrus.Fields{
			"resource": ep.name,
			"page":     page,
			"wait":     retryAfter.String(),
		}).Info("nomus rate limited, waiting")
		if err := c.sleep(ctx, retryAfter); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s page %d", ErrRateLimitExhausted, ep.name, page)
}

// doThroughBreaker issues one GET. A 429 is reported via a positive
// retryAfter and does not count as a breaker failure.
func (c *nomusClient) doThroughBreaker(ctx context.Context, endpoint string) ([]byte, time.Duration, error) {
	type pageResult struct {
		body       []byte
		retryAfter time.Duration
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Basic "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := defaultRateLimitWait
			var rl rateLimitBody
			if json.Unmarshal(body, &rl) == nil && rl.TempoAteLiberar != nil && *rl.TempoAteLiberar > 0 {
				wait = time.Duration(*rl.TempoAteLiberar * float64(time.Second))
			}
			return pageResult{retryAfter: wait}, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: status %d: %s", ErrFetchFailed, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return pageResult{body: body}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, 0, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, 0, err
	}
	res := out.(pageResult)
	return res.body, res.retryAfter, nil
}

// fetchPageWithRetry wraps fetchPage with exponential backoff and jitter for
// transient failures. Context cancellation, rate limit exhaustion and an open
// breaker are terminal.
func (c *nomusClient) fetchPageWithRetry(ctx context.Context, ep resourceEndpoint, page int) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			backoff = backoff + time.Duration(rand.Int63n(int64(time.Second)))
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}
		body, err := c.fetchPage(ctx, ep, page)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, ErrRateLimitExhausted) || errors.Is(err, ErrCircuitOpen) {
			return nil, err
		}
		c.logger.WithFields(logrus.Fields{
			"resource": ep.name,
			"page":     page,
			"attempt":  attempt + 1,
		}).Warn(err.Error())
	}
	return nil, fmt.Errorf("%w: %s page %d: %v", ErrFetchFailed, ep.name, page, lastErr)
}

// fetchAll walks an endpoint page by page until an empty page. Records are
// decoded into T; a page that fails to decode aborts the fetch.
func fetchAll[T any](ctx context.Context, c *nomusClient, ep resourceEndpoint) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		if page > maxPages {
			c.logger.WithFields(logrus.Fields{
				"resource": ep.name,
				"records":  len(all),
			}).Warn("nomus page ceiling reached, stopping fetch")
			return all, nil
		}
		body, err := c.fetchPageWithRetry(ctx, ep, page)
		if err != nil {
			return nil, err
		}
		var records []T
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("%w: %s page %d: %v", ErrDeserializeFailed, ep.name, page, err)
		}
		if len(records) == 0 {
			return all, nil
		}
		all = append(all, records...)
	}
}
