package allowlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	rules := Default()

	tests := []struct {
		name string
		url  string
		want Category
	}{
		{"app root", "https://claude.ai/", Primary},
		{"app chat", "https://claude.ai/chat/abc123", Primary},
		{"api subdomain", "https://api.anthropic.com/v1/messages", Primary},
		{"uppercase host", "https://CLAUDE.AI/new", Primary},
		{"google accounts", "https://accounts.google.com/o/oauth2/v2/auth", IdentityProvider},
		{"google static", "https://ssl.gstatic.com/accounts/ui/logo.png", IdentityProvider},
		{"apple id", "https://appleid.apple.com/auth/authorize", IdentityProvider},
		{"unrelated host", "https://example.org/docs", External},
		{"no host", "javascript:void(0)", External},
		{"empty", "", External},
		{"unparseable", "http://[::1]:namedport/", External},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.Classify(tt.url))
		})
	}
}

// An allowed domain name appearing in the path or query of a URL on a
// different host must never upgrade its classification.
func TestClassifySpoofResistance(t *testing.T) {
	rules := Default()

	assert.Equal(t, External, rules.Classify("https://evil.example.com/path?x=claude.ai"))
	assert.Equal(t, External, rules.Classify("https://evil.example.com/claude.ai/login"))
	assert.Equal(t, External, rules.Classify("https://evil.example.com/?redirect=https://accounts.google.com"))
	// Suffix matching is on dot boundaries, not raw string suffixes.
	assert.Equal(t, External, rules.Classify("https://notclaude.ai.evil.com/"))
	assert.Equal(t, External, rules.Classify("https://evilclaude.ai.example.org/"))
}

func TestClassifySubdomainSuffix(t *testing.T) {
	rules := Default()

	assert.Equal(t, Primary, rules.Classify("https://console.anthropic.com/"))
	assert.Equal(t, IdentityProvider, rules.Classify("https://oauth2.googleapis.com/token"))
}

func TestFlowRelated(t *testing.T) {
	rules := Default()

	assert.True(t, rules.FlowRelated("https://accounts.google.com/o/oauth2/v2/auth"))
	assert.True(t, rules.FlowRelated("https://claude.ai/login?returnTo=%2F"))
	assert.True(t, rules.FlowRelated("https://example.com/cb?flow=signin"))
	assert.False(t, rules.FlowRelated("https://claude.ai/chat/abc123"))
	assert.False(t, rules.FlowRelated("https://example.org/docs"))
}

func TestReturnedToApp(t *testing.T) {
	rules := Default()

	assert.True(t, rules.ReturnedToApp("https://claude.ai/"))
	assert.True(t, rules.ReturnedToApp("https://claude.ai"))
	assert.True(t, rules.ReturnedToApp("https://claude.ai/new"))
	assert.True(t, rules.ReturnedToApp("https://claude.ai/chat/abc123"))

	// Intermediate redirects on the primary host are not the entry point.
	assert.False(t, rules.ReturnedToApp("https://claude.ai/oauth/consent"))
	// Entry paths only count on the primary host.
	assert.False(t, rules.ReturnedToApp("https://accounts.google.com/"))
	assert.False(t, rules.ReturnedToApp("https://example.org/chat"))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.yaml")
	content := `primary:
  - myapp.example
identity_providers:
  - accounts.google.com
entry_paths:
  - /
  - /home
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rules, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, Primary, rules.Classify("https://myapp.example/"))
	assert.Equal(t, IdentityProvider, rules.Classify("https://accounts.google.com/"))
	assert.Equal(t, External, rules.Classify("https://claude.ai/"))
	assert.True(t, rules.ReturnedToApp("https://myapp.example/home/dashboard"))
}

func TestLoadFileRejectsEmptyPrimary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identity_providers:\n  - accounts.google.com\n"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
