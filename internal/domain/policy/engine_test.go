package policy

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/claudedesk/backend/internal/domain/allowlist"
	"github.com/claudedesk/backend/internal/domain/popup"
	"github.com/claudedesk/backend/internal/infrastructure/logging"
)

type fakeHost struct {
	mu     sync.Mutex
	opened []string
	closed []string
}

func (h *fakeHost) OpenWindow(contextID, openerID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, contextID)
	return nil
}

func (h *fakeHost) CloseWindow(contextID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, contextID)
	return nil
}

func newTestEngine(t *testing.T, allowExternalRedirects bool) (*Engine, *fakeHost) {
	t.Helper()
	rules := allowlist.Default()
	host := &fakeHost{}
	popups := popup.NewManager(rules, host, 10*time.Millisecond, logging.NewNop())
	return NewEngine(rules, popups, allowExternalRedirects, logging.NewNop()), host
}

func TestDecideNavigationPrimary(t *testing.T) {
	engine, _ := newTestEngine(t, true)

	d := engine.DecideNavigation(NavigationIntent{
		ContextID: "main",
		TargetURL: "https://claude.ai/chat/abc",
		MainFrame: true,
	})
	if d.Action != ActionAllow {
		t.Errorf("Expected allow, got %s", d.Action)
	}
	if d.Cancel {
		t.Error("Allowed navigations must not be cancelled")
	}
	if d.Category != allowlist.Primary {
		t.Errorf("Expected primary category, got %s", d.Category)
	}
}

func TestDecideNavigationIdentityProvider(t *testing.T) {
	engine, _ := newTestEngine(t, true)

	// A scripted redirect to the provider is still allowed in place.
	d := engine.DecideNavigation(NavigationIntent{
		ContextID:     "main",
		TargetURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		UserInitiated: false,
		MainFrame:     true,
	})
	if d.Action != ActionAllow {
		t.Errorf("Expected allow for identity provider, got %s", d.Action)
	}
}

func TestDecideNavigationExternalClick(t *testing.T) {
	engine, _ := newTestEngine(t, true)

	d := engine.DecideNavigation(NavigationIntent{
		ContextID:     "main",
		TargetURL:     "https://example.org/article",
		UserInitiated: true,
		MainFrame:     true,
	})
	if d.Action != ActionOpenExternal {
		t.Errorf("Expected open_external, got %s", d.Action)
	}
	if !d.Cancel {
		t.Error("External hand-off must cancel the in-context navigation")
	}
}

func TestDecideNavigationExternalRedirect(t *testing.T) {
	// Permissive default: scripted external navigations load in place.
	engine, _ := newTestEngine(t, true)
	d := engine.DecideNavigation(NavigationIntent{
		ContextID: "main",
		TargetURL: "https://example.org/cb",
		MainFrame: true,
	})
	if d.Action != ActionAllow {
		t.Errorf("Expected allow under permissive redirects, got %s", d.Action)
	}

	// Strict mode blocks the same navigation.
	strict, _ := newTestEngine(t, false)
	d = strict.DecideNavigation(NavigationIntent{
		ContextID: "main",
		TargetURL: "https://example.org/cb",
		MainFrame: true,
	})
	if d.Action != ActionBlock {
		t.Errorf("Expected block under strict redirects, got %s", d.Action)
	}
	if !d.Cancel {
		t.Error("Blocked navigations must be cancelled")
	}
}

func TestDecideNavigationExternalSubframeClick(t *testing.T) {
	engine, _ := newTestEngine(t, true)

	// Subframe clicks never leave the app; they fall through to the
	// redirect rules.
	d := engine.DecideNavigation(NavigationIntent{
		ContextID:     "main",
		TargetURL:     "https://example.org/embed",
		UserInitiated: true,
		MainFrame:     false,
	})
	if d.Action != ActionAllow {
		t.Errorf("Expected allow for subframe navigation, got %s", d.Action)
	}
}

func TestDecideNewWindowTrustedOpener(t *testing.T) {
	engine, host := newTestEngine(t, true)

	engine.NoteLocation("main", "https://claude.ai/")

	ctx, err := engine.DecideNewWindow("main")
	if err != nil {
		t.Fatalf("DecideNewWindow failed: %v", err)
	}
	if ctx.OpenerID != "main" {
		t.Errorf("Expected opener 'main', got %s", ctx.OpenerID)
	}
	if len(host.opened) != 1 {
		t.Errorf("Expected one OpenWindow call, got %d", len(host.opened))
	}
}

func TestDecideNewWindowUntrustedOpener(t *testing.T) {
	engine, host := newTestEngine(t, true)

	engine.NoteLocation("main", "https://evil.example.com/")

	if _, err := engine.DecideNewWindow("main"); !errors.Is(err, ErrUntrustedOpener) {
		t.Errorf("Expected ErrUntrustedOpener, got %v", err)
	}
	if len(host.opened) != 0 {
		t.Error("Untrusted openers must not reach the host")
	}
}

func TestDecideNewWindowUnknownOpener(t *testing.T) {
	engine, _ := newTestEngine(t, true)

	// A context with no recorded location has an empty URL, which
	// classifies External.
	if _, err := engine.DecideNewWindow("ghost"); !errors.Is(err, ErrUntrustedOpener) {
		t.Errorf("Expected ErrUntrustedOpener for unknown opener, got %v", err)
	}
}

func TestDecideNewWindowFromIdentityProvider(t *testing.T) {
	engine, _ := newTestEngine(t, true)

	// Providers sometimes chain their own auxiliary windows.
	engine.NoteLocation("popup_a", "https://accounts.google.com/signin")

	if _, err := engine.DecideNewWindow("popup_a"); err != nil {
		t.Errorf("Identity provider openers must be trusted, got %v", err)
	}
}

func TestContextLifecycleStates(t *testing.T) {
	engine, _ := newTestEngine(t, true)

	if got := engine.State("main"); got != StateIdle {
		t.Errorf("Expected Idle before any traffic, got %v", got)
	}

	engine.DecideNavigation(NavigationIntent{
		ContextID: "main",
		TargetURL: "https://claude.ai/",
		MainFrame: true,
	})
	if got := engine.State("main"); got != StateNavigating {
		t.Errorf("Expected Navigating after allowed intent, got %v", got)
	}

	engine.NoteLocation("main", "https://claude.ai/")
	if got := engine.State("main"); got != StateSettled {
		t.Errorf("Expected Settled after location commit, got %v", got)
	}

	// Fresh contexts may settle without a preceding intent.
	engine.NoteLocation("other", "https://claude.ai/new")
	if got := engine.State("other"); got != StateSettled {
		t.Errorf("Expected Settled for initial load, got %v", got)
	}
}

func TestForgetDropsState(t *testing.T) {
	engine, _ := newTestEngine(t, true)

	engine.NoteLocation("main", "https://claude.ai/")
	engine.Forget("main")

	if got := engine.State("main"); got != StateIdle {
		t.Errorf("Expected fresh Idle state after Forget, got %v", got)
	}
	if _, err := engine.DecideNewWindow("main"); !errors.Is(err, ErrUntrustedOpener) {
		t.Error("Forgotten contexts must lose their recorded location")
	}
}

func TestNoteLocationForwardsToPopups(t *testing.T) {
	engine, host := newTestEngine(t, true)

	engine.NoteLocation("main", "https://claude.ai/")
	ctx, err := engine.DecideNewWindow("main")
	if err != nil {
		t.Fatalf("DecideNewWindow failed: %v", err)
	}

	engine.NoteLocation(ctx.ID, "https://claude.ai/")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		host.mu.Lock()
		n := len(host.closed)
		host.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Expected popup close after the tracked context returned to the app")
}
