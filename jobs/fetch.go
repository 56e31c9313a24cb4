package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"switchyard.dev/model"
)

// DocumentQuerier runs ad-hoc document queries. Satisfied by *store.Store.
type DocumentQuerier interface {
	QueryDocuments(ctx context.Context, collection string, pipeline []map[string]interface{}) ([]map[string]interface{}, error)
}

// Fetcher executes a job's data source and returns its rows.
type Fetcher struct {
	sharedDB   *gorm.DB
	docs       DocumentQuerier
	httpClient *http.Client
	openSQL    func(driver, dsn string) (*gorm.DB, error)
}

// NewFetcher wires a fetcher. sharedDB may be nil when no shared analytics
// pool is configured; jobs selecting it then fail at execution time.
func NewFetcher(sharedDB *gorm.DB, docs DocumentQuerier) *Fetcher {
	return &Fetcher{
		sharedDB:   sharedDB,
		docs:       docs,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		openSQL:    openDedicatedPool,
	}
}

// Fetch runs the data source with placeholders already anchored in sub.
func (f *Fetcher) Fetch(ctx context.Context, ds *model.DataSourceConfig, sub *substitutor) ([]map[string]interface{}, error) {
	switch ds.Kind {
	case model.DataSourceSQL:
		return f.fetchSQL(ctx, ds, sub)
	case model.DataSourceDocument:
		return f.fetchDocuments(ctx, ds, sub)
	case model.DataSourceHTTP:
		return f.fetchHTTP(ctx, ds, sub)
	default:
		return nil, fmt.Errorf("unknown data source type %q", ds.Kind)
	}
}

func (f *Fetcher) fetchSQL(ctx context.Context, ds *model.DataSourceConfig, sub *substitutor) ([]map[string]interface{}, error) {
	if ds.Query == "" {
		return nil, fmt.Errorf("sql data source has no query")
	}

	db := f.sharedDB
	if !ds.UseSharedPool {
		if ds.DSN == "" {
			return nil, fmt.Errorf("sql data source needs a dsn or the shared pool")
		}
		dedicated, err := f.openSQL(ds.Driver, sub.String(ds.DSN))
		if err != nil {
			return nil, fmt.Errorf("open job database: %w", err)
		}
		defer closePool(dedicated)
		db = dedicated
	}
	if db == nil {
		return nil, fmt.Errorf("sql data source selected the shared pool but none is configured")
	}

	var rows []map[string]interface{}
	if err := db.WithContext(ctx).Raw(sub.String(ds.Query)).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("job query failed: %w", err)
	}
	return rows, nil
}

func (f *Fetcher) fetchDocuments(ctx context.Context, ds *model.DataSourceConfig, sub *substitutor) ([]map[string]interface{}, error) {
	if ds.Collection == "" {
		return nil, fmt.Errorf("document data source has no collection")
	}
	if f.docs == nil {
		return nil, fmt.Errorf("document data source is not available")
	}

	pipeline := make([]map[string]interface{}, len(ds.Pipeline))
	for i, stage := range ds.Pipeline {
		pipeline[i] = sub.Value(stage).(map[string]interface{})
	}
	return f.docs.QueryDocuments(ctx, ds.Collection, pipeline)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, ds *model.DataSourceConfig, sub *substitutor) ([]map[string]interface{}, error) {
	if ds.URL == "" {
		return nil, fmt.Errorf("http data source has no url")
	}

	method := ds.Method
	var bodyReader io.Reader
	if ds.Body != nil {
		body := sub.Value(ds.Body).(map[string]interface{})
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode job request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
		if method == "" {
			method = http.MethodPost
		}
	}
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, sub.String(ds.URL), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build job request: %w", err)
	}
	for k, v := range sub.Headers(ds.Headers) {
		req.Header.Set(k, v)
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("job request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read job response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("job request returned %d", resp.StatusCode)
	}

	return decodeRows(raw)
}

// decodeRows accepts a JSON array, an object with a data array, or a single
// object treated as one row.
func decodeRows(raw []byte) ([]map[string]interface{}, error) {
	var asArray []map[string]interface{}
	if err := json.Unmarshal(raw, &asArray); err == nil {
		return asArray, nil
	}

	var asObject map[string]interface{}
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return nil, fmt.Errorf("job response is not json")
	}
	if data, ok := asObject["data"].([]interface{}); ok {
		rows := make([]map[string]interface{}, 0, len(data))
		for _, item := range data {
			if row, ok := item.(map[string]interface{}); ok {
				rows = append(rows, row)
			}
		}
		return rows, nil
	}
	return []map[string]interface{}{asObject}, nil
}

func openDedicatedPool(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch driver {
	case "", "mysql":
		return gorm.Open(mysql.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported job database driver %q", driver)
	}
}

func closePool(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
