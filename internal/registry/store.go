// Package registry persists the set of detached supervised processes in a
// JSON file shared by every CLI invocation.
//
// Every operation is a full load-modify-save cycle with no locking; two
// concurrent writers can lose an update (last writer wins). Invocations are
// infrequent and human driven, which keeps that acceptable.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FileName is the registry file name inside the mulyo home directory.
const FileName = "registry.json"

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

var emptyDoc = []byte("[]\n")

// Store is the file-backed registry.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Open returns a Store for the registry file at path. The file is created
// lazily on first access.
func Open(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger, now: time.Now}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads all records. Unparseable content is logged, the file is reset
// to an empty array and an empty slice is returned. Only genuine I/O failures
// produce an error.
func (s *Store) Load() ([]Record, error) {
	if err := s.ensure(); err != nil {
		return nil, err
	}
	// #nosec G304 -- registry path is owned by mulyo
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	recs, err := decode(b)
	if err != nil {
		s.logger.Warn("registry unreadable, resetting to empty", "path", s.path, "error", err)
		if werr := writeFileAtomic(s.path, emptyDoc); werr != nil {
			s.logger.Error("failed to reset registry", "path", s.path, "error", werr)
		}
		return []Record{}, nil
	}
	return recs, nil
}

// Save overwrites the registry with recs.
func (s *Store) Save(recs []Record) error {
	if recs == nil {
		recs = []Record{}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return s.writeFailed(err)
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return s.writeFailed(err)
	}
	if err := writeFileAtomic(s.path, append(b, '\n')); err != nil {
		return s.writeFailed(err)
	}
	return nil
}

// Add appends rec stamped with registration metadata. It does not dedupe by
// pid; stale entries are reaped by Census.
func (s *Store) Add(rec Record) error {
	recs, err := s.Load()
	if err != nil {
		return err
	}
	now := s.now()
	if rec.StartTime == 0 {
		rec.StartTime = now.UnixMilli()
	}
	if rec.Mode == "" {
		rec.Mode = ModeManual
	}
	rec.JoinedAt = now.UTC().Format(isoMillis)
	rec.Status = StatusRunning
	rec.Loyalty = DefaultLoyalty
	rec.Restarts = 0
	return s.Save(append(recs, rec))
}

// Remove drops every record with the given pid.
func (s *Store) Remove(pid int) error {
	recs, err := s.Load()
	if err != nil {
		return err
	}
	kept := recs[:0]
	for _, r := range recs {
		if r.PID != pid {
			kept = append(kept, r)
		}
	}
	return s.Save(kept)
}

// Update applies fn to the first record with pid and saves. It reports
// whether a record was found; nothing is written when it was not.
func (s *Store) Update(pid int, fn func(*Record)) (bool, error) {
	recs, err := s.Load()
	if err != nil {
		return false, err
	}
	for i := range recs {
		if recs[i].PID == pid {
			fn(&recs[i])
			return true, s.Save(recs)
		}
	}
	return false, nil
}

// Find returns the first record with pid.
func (s *Store) Find(pid int) (Record, bool, error) {
	recs, err := s.Load()
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range recs {
		if r.PID == pid {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

func (s *Store) ensure() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err := writeFileAtomic(s.path, emptyDoc); err != nil {
			return fmt.Errorf("create registry: %w", err)
		}
	}
	return nil
}

func (s *Store) writeFailed(err error) error {
	we := &WriteError{Path: s.path, Err: err}
	s.logger.Error("registry save failed; on-disk state may be stale", "path", s.path, "error", err)
	return we
}

func decode(b []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: top level is not an array", ErrCorrupt)
	}
	var recs []Record
	if err := json.Unmarshal(trimmed, &recs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// writeFileAtomic writes through a temp file and rename so readers never see
// a half-written document. It does not serialise concurrent writers.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".registry-*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o600); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
