// Package session owns the durable, append-only memory of the orchestrator.
// Each session is one JSONL stream on disk; every other component refers to
// sessions by id and exchanges immutable records, never live state.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const logFilename = "log.jsonl"

// Store persists session logs under dir, one subdirectory per session id.
// Appends are independently atomic: each record is a single O_APPEND write of
// one newline-terminated JSON line, so a crash mid-write leaves at most a
// torn trailing line, which Load skips rather than surfaces.
type Store struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("session store dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session store dir: %w", err)
	}
	return &Store{dir: dir, files: map[string]*os.File{}}, nil
}

type Session struct {
	ID        string
	CreatedAt time.Time
	Records   []Record
}

func (s *Session) Findings() []Finding {
	out := []Finding{}
	for _, record := range s.Records {
		if record.Type != RecordTypeFinding {
			continue
		}
		var finding Finding
		if err := json.Unmarshal(record.Payload, &finding); err != nil {
			continue
		}
		out = append(out, finding)
	}
	return out
}

// Append writes one record to the session's log. Safe for concurrent use by
// multiple in-flight actions; ordering between concurrent appenders is not
// guaranteed, only monotonic growth of the log.
func (s *Store) Append(sessionID string, record Record) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is empty")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.openLocked(sessionID)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// Load reconstructs a session strictly from its append log, in record order.
// A missing session loads as empty rather than failing: the log is the only
// source of truth and an unwritten log is a valid (empty) history.
func (s *Store) Load(sessionID string) (Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Session{}, fmt.Errorf("session id is empty")
	}
	out := Session{ID: sessionID}
	f, err := os.Open(s.logPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return Session{}, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			// Torn trailing line from a crash mid-append; nothing after it
			// can be trusted to be in order.
			break
		}
		out.Records = append(out.Records, record)
	}
	if err := sc.Err(); err != nil {
		return Session{}, fmt.Errorf("read session log: %w", err)
	}
	if len(out.Records) > 0 {
		out.CreatedAt = out.Records[0].TS
	}
	return out, nil
}

// List returns all session ids, most recent first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read session store dir: %w", err)
	}
	ids := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ids = append(ids, entry.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// QueryFilter selects findings across sessions. Empty fields match anything.
type QueryFilter struct {
	SessionIDs []string
	Target     string
	Category   string
	Severity   string
}

// Query returns findings matching the filter across one or all sessions,
// without mutating any session. Originating session ids stay intact on each
// finding.
func (s *Store) Query(filter QueryFilter) ([]Finding, error) {
	ids := filter.SessionIDs
	if len(ids) == 0 {
		all, err := s.List()
		if err != nil {
			return nil, err
		}
		ids = all
	}
	out := []Finding{}
	for _, id := range ids {
		loaded, err := s.Load(id)
		if err != nil {
			return nil, err
		}
		for _, finding := range loaded.Findings() {
			if filter.Target != "" && finding.Target != filter.Target {
				continue
			}
			if filter.Category != "" && finding.Category != filter.Category {
				continue
			}
			if filter.Severity != "" && finding.Severity != filter.Severity {
				continue
			}
			out = append(out, finding)
		}
	}
	return out, nil
}

// Close releases cached log file handles. Appends after Close reopen lazily.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session log %s: %w", id, err)
		}
		delete(s.files, id)
	}
	return firstErr
}

func (s *Store) openLocked(sessionID string) (*os.File, error) {
	if f, ok := s.files[sessionID]; ok {
		return f, nil
	}
	dir := filepath.Join(s.dir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	f, err := os.OpenFile(s.logPath(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	s.files[sessionID] = f
	return f, nil
}

func (s *Store) logPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID, logFilename)
}
