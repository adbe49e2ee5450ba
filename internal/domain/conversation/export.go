package conversation

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// Format selects an export rendering.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// Export renders a record for saving outside the store.
func (s *Store) Export(recordID string, format Format) ([]byte, error) {
	rec, ok := s.Get(recordID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, recordID)
	}

	switch format {
	case FormatJSON:
		return sonic.MarshalIndent(rec, "", "  ")
	case FormatMarkdown:
		return renderMarkdown(rec), nil
	case FormatText:
		return renderText(rec), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func renderMarkdown(rec *Record) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rec.Title)
	for _, msg := range rec.Messages {
		fmt.Fprintf(&b, "**%s**: %s\n\n", speakerName(msg.Role), msg.Content)
	}
	return []byte(b.String())
}

func renderText(rec *Record) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", rec.Title)
	for _, msg := range rec.Messages {
		fmt.Fprintf(&b, "%s: %s\n\n", speakerName(msg.Role), msg.Content)
	}
	return []byte(b.String())
}

func speakerName(role Role) string {
	if role == RoleUser {
		return "You"
	}
	return "Claude"
}
