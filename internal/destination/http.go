// Package destination implements the concrete pipeline.Destination
// adapters: an HTTP (BlazingDB-style) destination and a ClickHouse
// destination.
package destination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/blazemigrate/blazemigrate/internal/breaker"
	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

// restartMarkers are substrings of a query-response body that mean the
// remote server is mid-restart; seeing one translates to ErrServerRestart
// so RetryStage can retry the request once the server is back.
var restartMarkers = []string{
	"the blazingdb server is restarting please try again in a moment.",
	"connection refused",
}

// HTTPDestination talks to a BlazingDB-style HTTP endpoint: register logs
// in and returns a token, query submits a query against a logged-in
// session, get-results fetches the rows for a prior query's token.
type HTTPDestination struct {
	client    *resty.Client
	log       *zap.Logger
	breaker   *breaker.CircuitBreaker
	sem       *semaphore.Weighted
	User      string
	Password  string
	Database  string
	Separator string

	mu    sync.Mutex
	token string
}

// NewHTTPDestination builds an HTTPDestination, gating concurrent requests
// at maxInFlight and tripping its circuit breaker on repeated failures.
func NewHTTPDestination(log *zap.Logger, host, user, password, database string, maxInFlight int64, timeout time.Duration) *HTTPDestination {
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(timeout).
		SetRetryCount(0)

	return &HTTPDestination{
		client:    client,
		log:       log,
		breaker:   breaker.New(time.Minute, 30*time.Second, 0.5, 5),
		sem:       semaphore.NewWeighted(maxInFlight),
		User:      user,
		Password:  password,
		Database:  database,
		Separator: "$",
	}
}

func (d *HTTPDestination) GetIdentifier(table string) string {
	return strings.Join([]string{d.Database, table}, d.Separator)
}

func (d *HTTPDestination) ensureLoggedIn(ctx context.Context, user, password string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.token != "" {
		return nil
	}

	resp, err := d.request(ctx, "register", map[string]string{"username": user, "password": password})
	if err != nil {
		return err
	}
	if resp == "fail" {
		return fmt.Errorf("destination: login failed for user %s", user)
	}
	d.token = resp
	return nil
}

func (d *HTTPDestination) request(ctx context.Context, path string, data map[string]string) (string, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer d.sem.Release(1)

	if !d.breaker.Allow() {
		return "", pipeline.ErrServerRestart
	}

	resp, err := d.client.R().SetContext(ctx).SetFormData(data).Post("/blazing-jdbc/" + path)
	ok := err == nil && !resp.IsError()
	d.breaker.Record(ok)

	if err != nil {
		if isRestartIndicator(err.Error()) {
			return "", pipeline.ErrServerRestart
		}
		return "", err
	}
	if isRestartIndicator(string(resp.Body())) {
		return "", pipeline.ErrServerRestart
	}
	if resp.IsError() {
		return "", fmt.Errorf("destination: request to %s failed with status %d", path, resp.StatusCode())
	}
	return string(resp.Body()), nil
}

func isRestartIndicator(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range restartMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func (d *HTTPDestination) GetColumns(ctx context.Context, table string) ([]pipeline.Column, error) {
	identifier := d.GetIdentifier(table)
	token, err := d.Query(ctx, "DESCRIBE TABLE "+identifier)
	if err != nil {
		return nil, err
	}
	stream, err := d.GetResults(ctx, token)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var columns []pipeline.Column
	for {
		row, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if len(row) < 2 {
			continue
		}
		col := pipeline.Column{Name: fmt.Sprint(row[0]), Type: fmt.Sprint(row[1])}
		if len(row) > 2 {
			if size, ok := row[2].(int64); ok {
				col.Size = int(size)
			}
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// Register performs a one-shot query without tracking a get-results
// round-trip — used for DDL (CREATE/DROP/TRUNCATE TABLE) where the
// destination's response body carries no row data worth parsing.
func (d *HTTPDestination) Register(ctx context.Context, query string) (string, error) {
	return d.Query(ctx, query)
}

func (d *HTTPDestination) Query(ctx context.Context, query string) (string, error) {
	if err := d.ensureLoggedIn(ctx, d.User, d.Password); err != nil {
		return "", err
	}

	d.mu.Lock()
	token := d.token
	d.mu.Unlock()

	resp, err := d.request(ctx, "query", map[string]string{"token": token, "query": strings.ToLower(query)})
	if err != nil {
		return "", err
	}
	if resp == "fail" {
		return "", &pipeline.ErrQueryException{Query: query, Response: resp}
	}
	return resp, nil
}

func (d *HTTPDestination) GetResults(ctx context.Context, token string) (pipeline.RowStream, error) {
	d.mu.Lock()
	loginToken := d.token
	d.mu.Unlock()

	resp, err := d.request(ctx, "get-results", map[string]string{"resultSetToken": token, "token": loginToken})
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.token = ""
	d.mu.Unlock()

	return newJSONRowStream(resp)
}

func (d *HTTPDestination) Execute(ctx context.Context, query string) error {
	resp, err := d.Query(ctx, query)
	if err != nil {
		return err
	}
	if resp == "warning" {
		return pipeline.ErrServerImportWarning
	}
	return nil
}

func (d *HTTPDestination) Close() error {
	return nil
}
