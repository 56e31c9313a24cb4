package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"switchyard.dev/common"
	"switchyard.dev/config"
	"switchyard.dev/model"
)

// SourceConfigStore loads the per-tenant adapter configurations.
// Satisfied by *store.Store.
type SourceConfigStore interface {
	FindActiveSourceConfigs(ctx context.Context) ([]model.EventSourceConfig, error)
}

// runningAdapter pairs a live adapter with the hash of the config that
// built it, so reconciliation can detect drift.
type runningAdapter struct {
	adapter Adapter
	hash    string
}

// Manager owns the running adapter set, one per tenant, and reconciles it
// against stored configuration on a fixed cadence: stop removed tenants,
// restart changed ones, start new ones.
type Manager struct {
	store    SourceConfigStore
	sink     EventSink
	gateway  *PushGateway
	cursors  *CursorStore
	sharedDB *gorm.DB
	cfg      config.SourcesConfig
	pushRate int
	logger   *common.ContextLogger

	mu      sync.Mutex
	running map[string]runningAdapter
	stop    chan struct{}
	done    chan struct{}
	started bool

	// defaults are file-provided tenant configs applied when the store has
	// no explicit document for a tenant.
	defaults []model.EventSourceConfig
}

// NewManager wires the reconciler. sharedDB may be nil when no shared SQL
// pool is configured; gateway may be nil when the push source is disabled.
func NewManager(store SourceConfigStore, sink EventSink, gateway *PushGateway, cursors *CursorStore, sharedDB *gorm.DB, cfg config.SourcesConfig, pushRate int) (*Manager, error) {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 2 * time.Minute
	}

	m := &Manager{
		store:    store,
		sink:     sink,
		gateway:  gateway,
		cursors:  cursors,
		sharedDB: sharedDB,
		cfg:      cfg,
		pushRate: pushRate,
		logger:   common.ServiceLogger("sources"),
		running:  map[string]runningAdapter{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cfg.DefaultConfigFile != "" {
		defaults, err := loadDefaultConfigs(cfg.DefaultConfigFile)
		if err != nil {
			return nil, err
		}
		m.defaults = defaults
	}
	return m, nil
}

// loadDefaultConfigs reads the YAML fallback file: a `tenants` list of
// source configs applied to tenants without explicit store documents.
func loadDefaultConfigs(path string) ([]model.EventSourceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read default source config: %w", err)
	}
	var file struct {
		Tenants []model.EventSourceConfig `yaml:"tenants"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse default source config: %w", err)
	}
	for i := range file.Tenants {
		if file.Tenants[i].TenantID == "" {
			return nil, fmt.Errorf("default source config entry %d has no orgId", i)
		}
		file.Tenants[i].Active = true
	}
	return file.Tenants, nil
}

// Start performs one immediate reconcile and then follows the cadence.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.Reconcile(ctx)
	go m.loop(ctx)
}

// Stop ends reconciliation and stops every running adapter.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stop)
	m.mu.Unlock()
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	for tenantID, run := range m.running {
		run.adapter.Stop()
		delete(m.running, tenantID)
	}
	m.logger.Info("source manager stopped")
}

// Running lists the tenants with a live adapter, for health reporting.
func (m *Manager) Running() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.running))
	for tenantID, run := range m.running {
		out[tenantID] = string(run.adapter.Name())
	}
	return out
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reconcile(ctx)
		}
	}
}

// Reconcile diffs the desired adapter set against the running one.
func (m *Manager) Reconcile(ctx context.Context) {
	desired, err := m.desiredConfigs(ctx)
	if err != nil {
		m.logger.WithError(err).Error("source config load failed, keeping current adapters")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Stop tenants that lost their config.
	for tenantID, run := range m.running {
		if _, ok := desired[tenantID]; !ok {
			m.logger.WithField("tenant", tenantID).Info("source removed, stopping adapter")
			run.adapter.Stop()
			delete(m.running, tenantID)
		}
	}

	for tenantID, cfg := range desired {
		hash := configHash(cfg)
		current, exists := m.running[tenantID]
		if exists && current.hash == hash {
			continue
		}
		if exists {
			m.logger.WithField("tenant", tenantID).Info("source changed, restarting adapter")
			current.adapter.Stop()
			delete(m.running, tenantID)
		}

		adapter, err := m.buildAdapter(cfg)
		if err != nil {
			m.logger.WithError(err).WithField("tenant", tenantID).Error("adapter build failed")
			continue
		}
		if err := adapter.Start(ctx); err != nil {
			m.logger.WithError(err).WithField("tenant", tenantID).Error("adapter start failed")
			continue
		}
		m.running[tenantID] = runningAdapter{adapter: adapter, hash: hash}
		m.logger.WithFields(map[string]interface{}{
			"tenant": tenantID,
			"type":   string(adapter.Name()),
		}).Info("adapter started")
	}
}

// desiredConfigs merges store documents over file defaults, one per tenant.
func (m *Manager) desiredConfigs(ctx context.Context) (map[string]model.EventSourceConfig, error) {
	desired := map[string]model.EventSourceConfig{}
	for _, cfg := range m.defaults {
		desired[cfg.TenantID] = cfg
	}

	stored, err := m.store.FindActiveSourceConfigs(ctx)
	if err != nil {
		return nil, err
	}
	for _, cfg := range stored {
		desired[cfg.TenantID] = cfg
	}

	for tenantID, cfg := range desired {
		if !cfg.Active {
			delete(desired, tenantID)
		}
	}
	return desired, nil
}

// configHash fingerprints the parts of a config that require a restart when
// they change. Revision and timestamps are deliberately excluded.
func configHash(cfg model.EventSourceConfig) string {
	snapshot := model.EventSourceConfig{
		TenantID:  cfg.TenantID,
		Type:      cfg.Type,
		TablePoll: cfg.TablePoll,
		Stream:    cfg.Stream,
		Broker:    cfg.Broker,
		Push:      cfg.Push,
	}
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

func (m *Manager) buildAdapter(cfg model.EventSourceConfig) (Adapter, error) {
	switch cfg.Type {
	case model.SourceMySQL:
		if cfg.TablePoll == nil {
			return nil, fmt.Errorf("mysql source has no tablePoll block")
		}
		return NewTablePollAdapter(cfg.TenantID, *cfg.TablePoll, m.sharedDB, m.cursors, m.sink)
	case model.SourceKafka:
		if cfg.Stream == nil {
			return nil, fmt.Errorf("kafka source has no stream block")
		}
		return NewStreamAdapter(cfg.TenantID, *cfg.Stream, m.sink)
	case model.SourceAMQP:
		if cfg.Broker == nil {
			return nil, fmt.Errorf("amqp source has no broker block")
		}
		return NewBrokerAdapter(cfg.TenantID, *cfg.Broker, m.sink)
	case model.SourceHTTPPush:
		if m.gateway == nil {
			return nil, fmt.Errorf("push source configured but the gateway is disabled")
		}
		push := model.PushConfig{}
		if cfg.Push != nil {
			push = *cfg.Push
		}
		return NewPushAdapter(cfg.TenantID, push, m.gateway, m.pushRate)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}
