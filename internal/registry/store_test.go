package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return Open(filepath.Join(t.TempDir(), "home", FileName), nil)
}

func pids(recs []Record) []int {
	out := make([]int, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.PID)
	}
	return out
}

func TestLoadCreatesEmptyFile(t *testing.T) {
	s := newTestStore(t)
	recs, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, recs)

	b, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(b))
}

func TestAddLoadRemoveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(Record{PID: 101, Name: "a.sh", Args: []string{"a.sh"}, Mode: ModeDetached}))
	require.NoError(t, s.Add(Record{PID: 202, Name: "b.sh"}))

	recs, err := s.Load()
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{101, 202}, pids(recs))

	require.NoError(t, s.Remove(101))
	recs, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, []int{202}, pids(recs))

	// removing an unknown pid is harmless
	require.NoError(t, s.Remove(999))
	recs, _ = s.Load()
	assert.Len(t, recs, 1)
}

func TestAddStampsRegistrationMetadata(t *testing.T) {
	s := newTestStore(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Add(Record{PID: 7, Name: "x", Status: "ignored", Restarts: 9}))
	rec, ok, err := s.Find(7)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, fixed.UnixMilli(), rec.StartTime)
	assert.Equal(t, "2026-01-02T03:04:05.006Z", rec.JoinedAt)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, DefaultLoyalty, rec.Loyalty)
	assert.Equal(t, 0, rec.Restarts)
	assert.Equal(t, ModeManual, rec.Mode)
}

func TestAddKeepsExplicitStartTime(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(Record{PID: 1, StartTime: 1234}))
	rec, _, _ := s.Find(1)
	assert.EqualValues(t, 1234, rec.StartTime)
}

func TestAddDoesNotDedupe(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(Record{PID: 5}))
	require.NoError(t, s.Add(Record{PID: 5}))
	recs, _ := s.Load()
	assert.Len(t, recs, 2)
	require.NoError(t, s.Remove(5))
	recs, _ = s.Load()
	assert.Empty(t, recs)
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(Record{PID: 11, Name: "svc"}))

	found, err := s.Update(11, func(r *Record) {
		r.Status = "restarting"
		r.Restarts = 3
	})
	require.NoError(t, err)
	assert.True(t, found)

	rec, _, _ := s.Find(11)
	assert.Equal(t, "restarting", rec.Status)
	assert.Equal(t, 3, rec.Restarts)
	assert.Equal(t, "svc", rec.Name)

	before, _ := os.ReadFile(s.Path())
	found, err = s.Update(12, func(r *Record) { r.Status = "nope" })
	require.NoError(t, err)
	assert.False(t, found)
	after, _ := os.ReadFile(s.Path())
	assert.Equal(t, before, after, "no write for unknown pid")
}

func TestLoadRecoversFromGarbage(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o750))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{{{ not json"), 0o600))

	recs, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, recs)

	b, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var doc []any
	require.NoError(t, json.Unmarshal(b, &doc), "file must hold valid JSON after recovery")
	assert.Empty(t, doc)
}

func TestLoadTreatsNonArrayAsCorrupt(t *testing.T) {
	for name, content := range map[string]string{
		"object": `{"pid": 1}`,
		"null":   `null`,
		"empty":  ``,
		"badpid": `[{"pid": "abc"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o750))
			require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0o600))
			recs, err := s.Load()
			require.NoError(t, err)
			assert.Empty(t, recs)
			b, _ := os.ReadFile(s.Path())
			assert.JSONEq(t, `[]`, string(b))
		})
	}
}

func TestDecodeWrapsErrCorrupt(t *testing.T) {
	_, err := decode([]byte(`"str"`))
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestSaveFailureIsWriteError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	// parent "directory" is a regular file, so nothing can be written below it
	s := Open(filepath.Join(blocker, FileName), nil)

	err := s.Save([]Record{{PID: 1}})
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, s.Path(), we.Path)
}

// Two invocations interleaving load-modify-save lose an update: the registry
// is deliberately unlocked and the last writer wins.
func TestConcurrentWritersLoseUpdate(t *testing.T) {
	s := newTestStore(t)
	cliA := Open(s.Path(), nil)
	cliB := Open(s.Path(), nil)

	snapshotA, err := cliA.Load()
	require.NoError(t, err)

	require.NoError(t, cliB.Add(Record{PID: 2002, Name: "from-b"}))

	require.NoError(t, cliA.Save(append(snapshotA, Record{PID: 1001, Name: "from-a"})))

	recs, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []int{1001}, pids(recs), "B's registration was overwritten by A's stale snapshot")
}

func TestRecordUptime(t *testing.T) {
	now := time.UnixMilli(10_000)
	assert.Equal(t, 4*time.Second, Record{StartTime: 6_000}.Uptime(now))
	assert.Zero(t, Record{}.Uptime(now))
	assert.Zero(t, Record{StartTime: 20_000}.Uptime(now))
}
