package sources

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"sync"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/golang-jwt/jwt/v5"

	"switchyard.dev/common"
	"switchyard.dev/model"
)

// PendingEnqueuer persists pushed events before the 202 goes out, so an ack
// to the caller never outruns durability. Satisfied by *store.Store.
type PendingEnqueuer interface {
	EnqueuePending(ctx context.Context, event model.Event) (string, error)
}

// PushGateway mounts the push endpoint once on a shared echo instance and
// routes requests to whichever tenant adapters are currently running.
// Adapters register and deregister as the reconciler starts and stops them.
type PushGateway struct {
	store  PendingEnqueuer
	logger *common.ContextLogger

	mu       sync.RWMutex
	adapters map[string]*PushAdapter
}

// NewPushGateway creates the gateway; Mount attaches its routes.
func NewPushGateway(store PendingEnqueuer) *PushGateway {
	return &PushGateway{
		store:    store,
		logger:   common.ServiceLogger("sources").WithField("adapter", "http_push"),
		adapters: map[string]*PushAdapter{},
	}
}

// Mount registers the push route. JWT validation runs through the middleware
// with a per-tenant key lookup; tenants on secret or open auth skip it.
func (g *PushGateway) Mount(e *echo.Echo) {
	jwtMiddleware := echojwt.WithConfig(echojwt.Config{
		Skipper: func(c echo.Context) bool {
			adapter := g.adapter(c.Param("tenant"))
			return adapter == nil || adapter.cfg.AuthMode != "jwt"
		},
		ParseTokenFunc: func(c echo.Context, auth string) (interface{}, error) {
			adapter := g.adapter(c.Param("tenant"))
			if adapter == nil {
				return nil, fmt.Errorf("unknown tenant")
			}
			return jwt.Parse(auth, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(adapter.cfg.JWTSecret), nil
			})
		},
	})
	e.POST("/events/:tenant", g.handlePush, jwtMiddleware)
	e.GET("/healthz", g.handleHealth)
}

func (g *PushGateway) handleHealth(c echo.Context) error {
	g.mu.RLock()
	adapters := len(g.adapters)
	g.mu.RUnlock()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"adapters": adapters,
	})
}

func (g *PushGateway) adapter(tenantID string) *PushAdapter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.adapters[tenantID]
}

func (g *PushGateway) register(a *PushAdapter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adapters[a.tenantID] = a
}

func (g *PushGateway) deregister(a *PushAdapter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.adapters[a.tenantID] == a {
		delete(g.adapters, a.tenantID)
	}
}

// handlePush accepts one pushed event, persists it and answers 202. The
// durable pending row is drained into the pipeline by the pending worker.
func (g *PushGateway) handlePush(c echo.Context) error {
	tenantID := c.Param("tenant")
	adapter := g.adapter(tenantID)
	if adapter == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no push source for tenant")
	}

	if adapter.cfg.AuthMode == "secret" {
		provided := c.Request().Header.Get("X-Push-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(adapter.cfg.SharedSecret)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "bad push secret")
		}
	}

	if !adapter.limiter.Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "push rate exceeded")
	}

	var body struct {
		EventID   string                 `json:"eventId"`
		EventType string                 `json:"eventType"`
		Payload   map[string]interface{} `json:"payload"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body is not json")
	}
	if body.EventType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "eventType is required")
	}
	payload := body.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	event := model.Event{
		ID:        body.EventID,
		EventType: body.EventType,
		TenantID:  tenantID,
		Payload:   payload,
		Source:    model.SourceHTTPPush,
		Metadata: map[string]interface{}{
			"remote": c.RealIP(),
		},
		ReceivedAt: time.Now(),
	}
	id, err := g.store.EnqueuePending(c.Request().Context(), event)
	if err != nil {
		g.logger.WithError(err).Error("pending enqueue failed")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event not accepted")
	}

	return c.JSON(http.StatusAccepted, map[string]string{"id": id, "status": "accepted"})
}

// PushAdapter is the per-tenant registration on the gateway. It owns no
// goroutines; starting means becoming routable.
type PushAdapter struct {
	tenantID string
	cfg      model.PushConfig
	gateway  *PushGateway
	limiter  *rate.Limiter
}

// NewPushAdapter binds a tenant's push settings to the shared gateway.
// ratePerSecond caps inbound pushes for the tenant; zero means 100/s.
func NewPushAdapter(tenantID string, cfg model.PushConfig, gateway *PushGateway, ratePerSecond int) (*PushAdapter, error) {
	if cfg.AuthMode == "jwt" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt auth mode requires a secret")
	}
	if cfg.AuthMode == "secret" && cfg.SharedSecret == "" {
		return nil, fmt.Errorf("secret auth mode requires a shared secret")
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 100
	}
	return &PushAdapter{
		tenantID: tenantID,
		cfg:      cfg,
		gateway:  gateway,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond*2),
	}, nil
}

// Name implements Adapter.
func (a *PushAdapter) Name() model.SourceName { return model.SourceHTTPPush }

// Start implements Adapter by registering on the gateway.
func (a *PushAdapter) Start(context.Context) error {
	a.gateway.register(a)
	return nil
}

// Stop implements Adapter by removing the registration; in-flight requests
// finish against the captured adapter.
func (a *PushAdapter) Stop() {
	a.gateway.deregister(a)
}
