package conversation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/claudedesk/backend/internal/infrastructure/logging"
	"github.com/claudedesk/backend/internal/infrastructure/monitoring"
	"github.com/claudedesk/backend/internal/shared/id"
)

// ErrNotFound indicates the record has no backing file: it does not
// exist for any query.
var ErrNotFound = errors.New("conversation not found")

// ErrInvalidRole rejects messages whose author is neither user nor
// assistant.
var ErrInvalidRole = errors.New("invalid message role")

// Store handles conversation persistence. It owns the conversations
// directory and an in-memory index that mirrors it.
type Store struct {
	mu      sync.Mutex
	dir     string
	records map[string]*Record // Protected by mu
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewStore opens (or creates) the conversations directory under
// dataDir and indexes every parseable record in it. A file that fails
// to parse is skipped and logged, never fatal to the store.
func NewStore(dataDir string, logger *logging.Logger) (*Store, error) {
	dir := filepath.Join(dataDir, "conversations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create conversations directory: %w", err)
	}

	s := &Store{
		dir:     dir,
		records: make(map[string]*Record),
		logger:  logger,
	}
	s.loadAll()
	return s, nil
}

// WithMetrics adds metrics tracking to the store
func (s *Store) WithMetrics(metrics *monitoring.Metrics) *Store {
	s.metrics = metrics
	s.mu.Lock()
	metrics.StoreRecords.Set(float64(len(s.records)))
	s.mu.Unlock()
	return s
}

// List returns all records sorted by UpdatedAt descending, most
// recently touched first.
func (s *Store) List() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec.clone())
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].UpdatedAt.After(records[j].UpdatedAt)
		}
		// ULIDs sort by creation time, so this keeps ties stable.
		return records[i].ID > records[j].ID
	})
	return records
}

// Get retrieves a record by id.
func (s *Store) Get(recordID string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordID]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// Create assigns a fresh id, persists an empty record immediately, and
// returns it. CreatedAt equals UpdatedAt on a fresh record.
func (s *Store) Create(title string) (*Record, error) {
	now := time.Now()
	rec := &Record{
		ID:        id.NewConversationID().String(),
		Title:     title,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.writeFile(rec); err != nil {
		s.countOp("create", "error")
		return nil, err
	}

	s.mu.Lock()
	s.records[rec.ID] = rec.clone()
	s.updateGaugeLocked()
	s.mu.Unlock()

	s.countOp("create", "ok")
	s.logger.Info("Created conversation",
		zap.String("id", rec.ID),
		zap.String("title", title),
	)
	return rec, nil
}

// Save refreshes UpdatedAt and writes the full record atomically. It
// returns only once the write has completed; on write failure the
// in-memory record is left untouched and the previous file survives
// intact.
func (s *Store) Save(rec *Record) (*Record, error) {
	if rec == nil || rec.ID == "" {
		return nil, fmt.Errorf("cannot save record without an id")
	}

	updated := rec.clone()
	updated.UpdatedAt = s.nextUpdateTime(rec.ID)

	if err := s.writeFile(updated); err != nil {
		s.countOp("save", "error")
		return nil, err
	}

	s.mu.Lock()
	s.records[updated.ID] = updated.clone()
	s.updateGaugeLocked()
	s.mu.Unlock()

	s.countOp("save", "ok")
	return updated, nil
}

// Rename updates a record's title and persists it.
func (s *Store) Rename(recordID, title string) (*Record, error) {
	rec, ok := s.Get(recordID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, recordID)
	}
	rec.Title = title
	return s.Save(rec)
}

// AppendMessage adds a message to the end of a conversation and
// persists it. Message order is conversation order.
func (s *Store) AppendMessage(recordID string, role Role, content string) (*Record, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	rec, ok := s.Get(recordID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, recordID)
	}
	rec.Messages = append(rec.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	return s.Save(rec)
}

// Delete removes the backing file if present and evicts the record
// from the index. Deleting a nonexistent id is not an error.
func (s *Store) Delete(recordID string) error {
	if err := os.Remove(s.path(recordID)); err != nil && !os.IsNotExist(err) {
		s.countOp("delete", "error")
		return fmt.Errorf("failed to delete conversation %s: %w", recordID, err)
	}

	s.mu.Lock()
	delete(s.records, recordID)
	s.updateGaugeLocked()
	s.mu.Unlock()

	s.countOp("delete", "ok")
	return nil
}

// Search matches the query case-insensitively against titles first,
// then message content. Empty or whitespace-only queries return no
// results. Matches keep List order.
func (s *Store) Search(query string) []*Record {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []*Record{}
	}

	results := []*Record{}
	for _, rec := range s.List() {
		if strings.Contains(strings.ToLower(rec.Title), query) {
			results = append(results, rec)
			continue
		}
		for _, msg := range rec.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, rec)
				break
			}
		}
	}
	return results
}

// Count returns the number of indexed records.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// nextUpdateTime keeps UpdatedAt monotonically non-decreasing per
// record even if the wall clock steps backwards.
func (s *Store) nextUpdateTime(recordID string) time.Time {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.records[recordID]; ok && !now.After(prev.UpdatedAt) {
		return prev.UpdatedAt.Add(time.Millisecond)
	}
	return now
}

// loadAll indexes every record file in the directory. Parse failures
// skip the file so one corrupt record cannot take down the listing.
func (s *Store) loadAll() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("Failed to scan conversations directory", zap.Error(err))
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Skipping unreadable conversation file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		var rec Record
		if err := sonic.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("Skipping unparseable conversation file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		if rec.ID == "" {
			s.logger.Warn("Skipping conversation file with empty id",
				zap.String("path", path))
			continue
		}
		s.records[rec.ID] = &rec
	}
}

// writeFile serializes the record and writes it write-then-rename, so
// a crash mid-write cannot leave a half-written file behind the
// record's key.
func (s *Store) writeFile(rec *Record) error {
	data, err := sonic.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", rec.ID, err)
	}

	target := s.path(rec.ID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write conversation %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit conversation %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) path(recordID string) string {
	return filepath.Join(s.dir, recordID+".json")
}

func (s *Store) countOp(operation, status string) {
	if s.metrics != nil {
		s.metrics.StoreOperations.WithLabelValues(operation, status).Inc()
	}
}

// updateGaugeLocked refreshes the record gauge; callers hold s.mu.
func (s *Store) updateGaugeLocked() {
	if s.metrics != nil {
		s.metrics.StoreRecords.Set(float64(len(s.records)))
	}
}
