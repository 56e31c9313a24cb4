package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"switchyard.dev/common"
	"switchyard.dev/events"
	"switchyard.dev/model"
)

// requiredColumns are the logical fields a column mapping must bind.
var requiredColumns = []string{"id", "eventType", "payload"}

// TablePollAdapter polls a relational table for new rows and emits each as
// one event. It keeps a persisted high-water cursor on the id column; a row
// is only passed once the pipeline acks it.
type TablePollAdapter struct {
	tenantID string
	cfg      model.TablePollConfig
	cursors  *CursorStore
	sink     EventSink
	logger   *common.ContextLogger

	// sharedDB is used when the config opts into the shared pool; otherwise
	// the adapter dials its own connection on Start.
	sharedDB *gorm.DB
	db       *gorm.DB
	ownsDB   bool

	mu      sync.Mutex
	cursor  string
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewTablePollAdapter validates the configured identifiers up front so an
// injection-shaped table or column name never reaches SQL.
func NewTablePollAdapter(tenantID string, cfg model.TablePollConfig, sharedDB *gorm.DB, cursors *CursorStore, sink EventSink) (*TablePollAdapter, error) {
	if err := common.ValidateIdentifier(cfg.Table); err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}
	for logical, column := range cfg.ColumnMapping {
		if err := common.ValidateIdentifier(column); err != nil {
			return nil, fmt.Errorf("column for %q: %w", logical, err)
		}
	}
	for _, logical := range requiredColumns {
		if cfg.ColumnMapping[logical] == "" {
			return nil, fmt.Errorf("column mapping is missing %q", logical)
		}
	}
	if cfg.UseSharedPool && sharedDB == nil {
		return nil, fmt.Errorf("config requests the shared pool but none is configured")
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = 5000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.DBTimeoutMs <= 0 {
		cfg.DBTimeoutMs = 10000
	}

	return &TablePollAdapter{
		tenantID: tenantID,
		cfg:      cfg,
		cursors:  cursors,
		sink:     sink,
		sharedDB: sharedDB,
		logger: common.ServiceLogger("sources").WithFields(map[string]interface{}{
			"adapter": "mysql",
			"tenant":  tenantID,
		}),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// Name implements Adapter.
func (a *TablePollAdapter) Name() model.SourceName { return model.SourceMySQL }

// Start connects (or adopts the shared pool), restores the cursor and
// launches the poll loop.
func (a *TablePollAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	if a.cfg.UseSharedPool {
		a.db = a.sharedDB
	} else {
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			a.cfg.User, a.cfg.Password, a.cfg.Host, a.cfg.Port, a.cfg.Database)
		db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return fmt.Errorf("connect poll source: %w", err)
		}
		a.db = db
		a.ownsDB = true
	}

	cursor, err := a.cursors.Get(a.tenantID, a.cfg.Table)
	if err != nil {
		return fmt.Errorf("restore cursor: %w", err)
	}
	a.cursor = cursor
	a.started = true

	go a.loop(ctx)
	a.logger.WithField("table", a.cfg.Table).Info("table poll started")
	return nil
}

// Stop halts polling and closes an owned connection.
func (a *TablePollAdapter) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	close(a.stop)
	a.mu.Unlock()

	<-a.done
	if a.ownsDB && a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	a.logger.Info("table poll stopped")
}

func (a *TablePollAdapter) loop(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(time.Duration(a.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.pollOnce(ctx); err != nil {
				a.logger.WithError(err).Warn("poll pass failed")
			}
		}
	}
}

// pollOnce reads the next batch past the cursor and submits each row. The
// cursor only moves forward when the pipeline acks a row, so unprocessed
// rows are re-polled.
func (a *TablePollAdapter) pollOnce(ctx context.Context) error {
	dbCtx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.DBTimeoutMs)*time.Millisecond)
	defer cancel()

	idCol := a.cfg.ColumnMapping["id"]
	columns := make([]string, 0, len(a.cfg.ColumnMapping))
	for _, column := range a.cfg.ColumnMapping {
		columns = append(columns, common.QuoteIdentifier(column))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), common.QuoteIdentifier(a.cfg.Table))
	args := []interface{}{}
	a.mu.Lock()
	cursor := a.cursor
	a.mu.Unlock()
	if cursor != "" {
		query += fmt.Sprintf(" WHERE %s > ?", common.QuoteIdentifier(idCol))
		args = append(args, cursor)
	}
	query += fmt.Sprintf(" ORDER BY %s ASC LIMIT %d", common.QuoteIdentifier(idCol), a.cfg.BatchSize)

	var rows []map[string]interface{}
	if err := a.db.WithContext(dbCtx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return fmt.Errorf("poll query: %w", err)
	}

	for _, row := range rows {
		event, rowID, err := a.rowToEvent(row)
		if err != nil {
			a.logger.WithError(err).WithField("row_id", rowID).Warn("row skipped")
			a.advanceCursor(rowID)
			continue
		}
		sctx := events.SourceContext{
			Ack: func() { a.advanceCursor(rowID) },
			// A nack leaves the cursor behind the row; the next poll pass
			// re-reads it.
			Nack: func(time.Duration) {},
		}
		if err := a.sink.SubmitEvent(ctx, event, sctx); err != nil {
			return err
		}
	}
	return nil
}

// rowToEvent maps one result row through the configured column mapping.
func (a *TablePollAdapter) rowToEvent(row map[string]interface{}) (*model.Event, string, error) {
	rowID := stringColumn(row, a.cfg.ColumnMapping["id"])
	if rowID == "" {
		return nil, "", fmt.Errorf("row has no id value")
	}
	eventType := stringColumn(row, a.cfg.ColumnMapping["eventType"])
	if eventType == "" {
		return nil, rowID, fmt.Errorf("row has no event type")
	}

	payload, err := decodePayloadColumn(row[a.cfg.ColumnMapping["payload"]])
	if err != nil {
		return nil, rowID, fmt.Errorf("payload column: %w", err)
	}

	tenantID := a.tenantID
	if col := a.cfg.ColumnMapping["orgId"]; col != "" {
		if v := stringColumn(row, col); v != "" {
			tenantID = v
		}
	}

	event := &model.Event{
		ID:        fmt.Sprintf("%s-%s-%s", model.SourceMySQL, a.cfg.Table, rowID),
		EventType: eventType,
		TenantID:  tenantID,
		Payload:   payload,
		Source:    model.SourceMySQL,
		Metadata: map[string]interface{}{
			"table":    a.cfg.Table,
			"position": rowID,
		},
		ReceivedAt: time.Now(),
	}
	return event, rowID, nil
}

// advanceCursor moves the persisted high-water mark forward, never back.
func (a *TablePollAdapter) advanceCursor(rowID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !cursorLess(a.cursor, rowID) {
		return
	}
	a.cursor = rowID
	if err := a.cursors.Put(a.tenantID, a.cfg.Table, rowID); err != nil {
		a.logger.WithError(err).Warn("cursor write failed")
	}
}

// cursorLess orders cursors numerically when both sides are numbers and
// lexically otherwise, matching how the id column sorts in SQL.
func cursorLess(current, candidate string) bool {
	if current == "" {
		return true
	}
	curN, errA := parseNumeric(current)
	candN, errB := parseNumeric(candidate)
	if errA == nil && errB == nil {
		return curN < candN
	}
	return current < candidate
}

func parseNumeric(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func stringColumn(row map[string]interface{}, column string) string {
	switch v := row[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// decodePayloadColumn accepts a JSON text/blob column or leaves a plain
// string wrapped under "value".
func decodePayloadColumn(raw interface{}) (map[string]interface{}, error) {
	var text string
	switch v := raw.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case string:
		text = v
	case []byte:
		text = string(v)
	case map[string]interface{}:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", raw)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]interface{}{}, nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return map[string]interface{}{"value": text}, nil
	}
	return decoded, nil
}
