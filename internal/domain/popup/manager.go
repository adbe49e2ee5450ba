// Package popup owns the auxiliary browsing contexts opened for
// federated login flows.
package popup

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/claudedesk/backend/internal/domain/allowlist"
	"github.com/claudedesk/backend/internal/infrastructure/logging"
	"github.com/claudedesk/backend/internal/infrastructure/monitoring"
	"github.com/claudedesk/backend/internal/shared/id"
)

// ErrCreateFailed indicates the engine refused to materialize the
// auxiliary window. The triggering login attempt simply does not
// proceed; the primary context is unaffected.
var ErrCreateFailed = errors.New("popup creation failed")

// Context is a tracked auxiliary browsing context. The manager is its
// sole owner for its whole lifetime; "is this a popup" is answered by
// membership in the manager's map, never by inspecting window objects.
type Context struct {
	ID         string    `json:"id"`
	OpenerID   string    `json:"opener_id"`
	CurrentURL string    `json:"current_url"`
	OpenedAt   time.Time `json:"opened_at"`
	Closed     bool      `json:"closed"`

	closeTimer *time.Timer
}

// Host is the engine-side surface the manager drives. OpenWindow must
// create the window in the opener's storage partition so cookies and
// local storage carry the login session back to the primary context.
type Host interface {
	OpenWindow(contextID, openerID string) error
	CloseWindow(contextID string) error
}

// Manager creates, tracks, and tears down login popups.
type Manager struct {
	mu         sync.Mutex
	popups     map[string]*Context // Protected by mu
	rules      *allowlist.Ruleset
	host       Host
	closeDelay time.Duration
	logger     *logging.Logger
	metrics    *monitoring.Metrics
}

// NewManager creates a popup manager. closeDelay is how long a popup
// lingers after returning to the application; closing immediately
// risks truncating a still-in-flight final redirect.
func NewManager(rules *allowlist.Ruleset, host Host, closeDelay time.Duration, logger *logging.Logger) *Manager {
	return &Manager{
		popups:     make(map[string]*Context),
		rules:      rules,
		host:       host,
		closeDelay: closeDelay,
		logger:     logger,
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Open creates a new tracked browsing context for the given opener and
// surfaces it to the host as an independent top-level window.
func (m *Manager) Open(openerID string) (*Context, error) {
	ctx := &Context{
		ID:       id.NewContextID().String(),
		OpenerID: openerID,
		OpenedAt: time.Now(),
	}

	if err := m.host.OpenWindow(ctx.ID, openerID); err != nil {
		m.logger.Warn("Engine refused auxiliary window",
			zap.String("opener_id", openerID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	m.mu.Lock()
	m.popups[ctx.ID] = ctx
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.PopupsOpened.Inc()
		m.metrics.PopupsOpen.Inc()
	}
	m.logger.Info("Opened login popup",
		zap.String("context_id", ctx.ID),
		zap.String("opener_id", openerID),
	)

	popupCopy := *ctx
	return &popupCopy, nil
}

// LocationChanged records a tracked popup's new URL and, once the flow
// has returned to the application entry point, schedules closure.
func (m *Manager) LocationChanged(contextID, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, ok := m.popups[contextID]
	if !ok || ctx.Closed {
		return
	}
	ctx.CurrentURL = url

	if !m.rules.ReturnedToApp(url) {
		return
	}
	if ctx.closeTimer != nil {
		// Already scheduled by an earlier location change.
		return
	}

	m.logger.Info("Login flow returned to application, scheduling popup close",
		zap.String("context_id", contextID),
		zap.Duration("delay", m.closeDelay),
	)
	ctx.closeTimer = time.AfterFunc(m.closeDelay, func() {
		m.closeByPolicy(contextID)
	})
}

// NotifyClosed handles the user (or the engine) closing a tracked
// popup. Cancels any pending close timer; unknown ids are ignored, so
// a timer firing after a user close is a no-op rather than a
// double-close.
func (m *Manager) NotifyClosed(contextID string) {
	m.mu.Lock()
	ctx, ok := m.popups[contextID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if ctx.closeTimer != nil {
		ctx.closeTimer.Stop()
		ctx.closeTimer = nil
	}
	ctx.Closed = true
	delete(m.popups, contextID)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.PopupsOpen.Dec()
		m.metrics.PopupsClosed.WithLabelValues("user").Inc()
	}
	m.logger.Info("Popup closed by user", zap.String("context_id", contextID))
}

// CloseAll closes every tracked, non-closed popup. Invoked on
// application shutdown so no popup outlives the primary window.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	remaining := make([]*Context, 0, len(m.popups))
	for _, ctx := range m.popups {
		if ctx.closeTimer != nil {
			ctx.closeTimer.Stop()
			ctx.closeTimer = nil
		}
		ctx.Closed = true
		remaining = append(remaining, ctx)
	}
	m.popups = make(map[string]*Context)
	m.mu.Unlock()

	for _, ctx := range remaining {
		if err := m.host.CloseWindow(ctx.ID); err != nil {
			m.logger.Warn("Failed to close popup at shutdown",
				zap.String("context_id", ctx.ID),
				zap.Error(err),
			)
		}
		if m.metrics != nil {
			m.metrics.PopupsOpen.Dec()
			m.metrics.PopupsClosed.WithLabelValues("shutdown").Inc()
		}
	}
}

// Tracks reports whether the context id belongs to a live popup.
func (m *Manager) Tracks(contextID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.popups[contextID]
	return ok
}

// Get retrieves a tracked popup by id.
func (m *Manager) Get(contextID string) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, ok := m.popups[contextID]
	if !ok {
		return nil, false
	}
	// Return a copy to prevent external modifications
	ctxCopy := *ctx
	return &ctxCopy, true
}

// List returns a snapshot of all tracked popups.
func (m *Manager) List() []*Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	popups := make([]*Context, 0, len(m.popups))
	for _, ctx := range m.popups {
		ctxCopy := *ctx
		popups = append(popups, &ctxCopy)
	}
	return popups
}

// closeByPolicy is the deferred close scheduled by LocationChanged.
func (m *Manager) closeByPolicy(contextID string) {
	m.mu.Lock()
	ctx, ok := m.popups[contextID]
	if !ok || ctx.Closed {
		// User beat the timer; nothing to do.
		m.mu.Unlock()
		return
	}
	ctx.Closed = true
	ctx.closeTimer = nil
	delete(m.popups, contextID)
	m.mu.Unlock()

	if err := m.host.CloseWindow(contextID); err != nil {
		m.logger.Warn("Failed to close popup after login flow",
			zap.String("context_id", contextID),
			zap.Error(err),
		)
	}
	if m.metrics != nil {
		m.metrics.PopupsOpen.Dec()
		m.metrics.PopupsClosed.WithLabelValues("flow_completed").Inc()
	}
	m.logger.Info("Closed popup after login flow", zap.String("context_id", contextID))
}
