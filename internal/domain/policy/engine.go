// Package policy decides, for every navigation attempt and every
// request to open a new browsing context, whether to allow it in
// place, hand it to the system browser, route it to a tracked login
// popup, or block it.
package policy

import (
	"errors"
	"sync"

	"github.com/qmuntal/stateless"
	"go.uber.org/zap"

	"github.com/claudedesk/backend/internal/domain/allowlist"
	"github.com/claudedesk/backend/internal/domain/popup"
	"github.com/claudedesk/backend/internal/infrastructure/logging"
	"github.com/claudedesk/backend/internal/infrastructure/monitoring"
)

// ErrUntrustedOpener rejects new-window intents from contexts whose
// current URL classifies External: only trusted contexts may spawn
// tracked popups.
var ErrUntrustedOpener = errors.New("opener context is not trusted to open windows")

// Action is the routing decision for a navigation intent.
type Action string

const (
	// ActionAllow loads the document in the requesting context.
	ActionAllow Action = "allow"
	// ActionOpenExternal hands the URL to the system browser; the
	// in-context navigation is cancelled.
	ActionOpenExternal Action = "open_external"
	// ActionBlock cancels the navigation without a replacement.
	ActionBlock Action = "block"
)

// NavigationIntent is a host document's request to change location.
type NavigationIntent struct {
	ContextID     string `json:"context_id"`
	TargetURL     string `json:"url"`
	UserInitiated bool   `json:"user_initiated"` // a link click, not a scripted redirect
	MainFrame     bool   `json:"main_frame"`
}

// Decision is returned synchronously; the engine adapter must act on
// it before the underlying navigation proceeds.
type Decision struct {
	Action   Action             `json:"action"`
	Category allowlist.Category `json:"category"`
	// Cancel means the requesting context must not also navigate.
	Cancel bool `json:"cancel"`
}

// Browsing context lifecycle states
type ContextState stateless.State

var (
	StateIdle       ContextState = "Idle"
	StateNavigating ContextState = "Navigating"
	StateSettled    ContextState = "Settled"
)

// Context lifecycle triggers
type ContextTrigger stateless.Trigger

var (
	TriggerNavigate ContextTrigger = "Navigate"
	TriggerSettle   ContextTrigger = "Settle"
)

// Engine evaluates navigation and new-window intents against the
// allow-list. One engine serves all browsing contexts; per-context
// state lives in a state machine keyed by context id.
type Engine struct {
	mu       sync.Mutex
	rules    *allowlist.Ruleset
	popups   *popup.Manager
	machines map[string]*stateless.StateMachine // Protected by mu
	lastURL  map[string]string                  // Protected by mu

	// allowExternalRedirects keeps non-user-initiated external-host
	// navigations permitted, since blocking silently can break
	// legitimate flows. Flagged default pending product confirmation.
	allowExternalRedirects bool

	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewEngine creates a navigation policy engine.
func NewEngine(rules *allowlist.Ruleset, popups *popup.Manager, allowExternalRedirects bool, logger *logging.Logger) *Engine {
	return &Engine{
		rules:                  rules,
		popups:                 popups,
		machines:               make(map[string]*stateless.StateMachine),
		lastURL:                make(map[string]string),
		allowExternalRedirects: allowExternalRedirects,
		logger:                 logger,
	}
}

// WithMetrics adds metrics tracking to the engine
func (e *Engine) WithMetrics(metrics *monitoring.Metrics) *Engine {
	e.metrics = metrics
	return e
}

// DecideNavigation evaluates the decision table in order, first match
// wins. The caller must act on the result before letting the engine
// proceed.
func (e *Engine) DecideNavigation(intent NavigationIntent) Decision {
	category := e.rules.Classify(intent.TargetURL)

	var decision Decision
	switch {
	case category == allowlist.Primary:
		decision = Decision{Action: ActionAllow, Category: category}
	case category == allowlist.IdentityProvider:
		// Redirects inside an already-open login page are ordinary
		// navigations, not popups.
		decision = Decision{Action: ActionAllow, Category: category}
	case intent.UserInitiated && intent.MainFrame:
		decision = Decision{Action: ActionOpenExternal, Category: category, Cancel: true}
	case e.allowExternalRedirects:
		decision = Decision{Action: ActionAllow, Category: category}
	default:
		decision = Decision{Action: ActionBlock, Category: category, Cancel: true}
	}

	if decision.Action == ActionAllow {
		e.fire(intent.ContextID, TriggerNavigate)
	}

	if e.metrics != nil {
		e.metrics.NavigationDecisions.WithLabelValues(string(category), string(decision.Action)).Inc()
	}
	e.logger.Debug("Navigation decision",
		zap.String("context_id", intent.ContextID),
		zap.String("url", intent.TargetURL),
		zap.String("category", string(category)),
		zap.String("action", string(decision.Action)),
	)
	return decision
}

// DecideNewWindow handles a context's request to open another browsing
// context. The target URL is unknown at open time, so trust is judged
// by the opener's current location; External openers are rejected.
func (e *Engine) DecideNewWindow(openerID string) (*popup.Context, error) {
	e.mu.Lock()
	openerURL := e.lastURL[openerID]
	e.mu.Unlock()

	if e.rules.Classify(openerURL) == allowlist.External {
		if e.metrics != nil {
			e.metrics.NewWindowRequests.WithLabelValues("rejected").Inc()
		}
		e.logger.Warn("Rejected new-window intent from untrusted opener",
			zap.String("opener_id", openerID),
			zap.String("opener_url", openerURL),
		)
		return nil, ErrUntrustedOpener
	}

	ctx, err := e.popups.Open(openerID)
	if err != nil {
		if e.metrics != nil {
			e.metrics.NewWindowRequests.WithLabelValues("failed").Inc()
		}
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.NewWindowRequests.WithLabelValues("opened").Inc()
	}
	return ctx, nil
}

// NoteLocation records a context's committed location. Tracked popups
// are forwarded to the lifecycle manager so the close watcher sees
// every URL change.
func (e *Engine) NoteLocation(contextID, url string) {
	e.mu.Lock()
	e.lastURL[contextID] = url
	e.mu.Unlock()

	e.fire(contextID, TriggerSettle)

	if e.popups.Tracks(contextID) {
		e.popups.LocationChanged(contextID, url)
	}
}

// Forget drops per-context state after the engine reports the context
// closed.
func (e *Engine) Forget(contextID string) {
	e.mu.Lock()
	delete(e.machines, contextID)
	delete(e.lastURL, contextID)
	e.mu.Unlock()
}

// State returns the lifecycle state of a browsing context.
func (e *Engine) State(contextID string) ContextState {
	return ContextState(e.machine(contextID).MustState())
}

func (e *Engine) fire(contextID string, trigger ContextTrigger) {
	if err := e.machine(contextID).Fire(trigger); err != nil {
		e.logger.Debug("Context FSM rejected trigger",
			zap.String("context_id", contextID),
			zap.Any("trigger", trigger),
			zap.Error(err),
		)
	}
}

func (e *Engine) machine(contextID string) *stateless.StateMachine {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fsm, ok := e.machines[contextID]; ok {
		return fsm
	}

	fsm := stateless.NewStateMachine(StateIdle)
	fsm.Configure(StateIdle).
		Permit(TriggerNavigate, StateNavigating).
		// Engines report the initial load of a fresh context as a
		// location change with no preceding intent.
		Permit(TriggerSettle, StateSettled)
	fsm.Configure(StateNavigating).
		PermitReentry(TriggerNavigate).
		Permit(TriggerSettle, StateSettled)
	fsm.Configure(StateSettled).
		Permit(TriggerNavigate, StateNavigating).
		PermitReentry(TriggerSettle)

	e.machines[contextID] = fsm
	return fsm
}
