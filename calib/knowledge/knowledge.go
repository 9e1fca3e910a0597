// Package knowledge is the content-addressable result cache. Every
// successful worker evaluation is persisted as one JSON file named by the
// fingerprint of its canonical parameter vector, so re-evaluating the same
// parameters never re-invokes a worker, including across process restarts.
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pfc-calib/pfc-calib/calib"
)

// CacheError wraps a storage failure. Callers treat it exactly like a cache
// miss: the evaluation degrades to a live worker run instead of crashing.
type CacheError struct {
	Op    string
	Cause error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("knowledge base %s: %v", e.Op, e.Cause)
}

func (e *CacheError) Unwrap() error { return e.Cause }

// entryFile is the on-disk shape of one cache entry.
type entryFile struct {
	Parameters     json.RawMessage   `json:"parameters"`
	SimulationData map[string]string `json:"simulation_data"`
}

// Entry is one decoded cache record, as surfaced to warm-start consumers.
type Entry struct {
	Fingerprint string
	Parameters  map[string]any
	Result      calib.SimulationResult
}

// Base is a directory-backed knowledge base. The presence of a fingerprint
// file is the cache-hit signal; there is no index.
type Base struct {
	dir string
}

// Open creates the backing directory if needed and returns the base.
func Open(dir string) (*Base, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &CacheError{Op: "open", Cause: err}
	}
	return &Base{dir: dir}, nil
}

// Dir returns the backing directory.
func (b *Base) Dir() string { return b.dir }

func (b *Base) path(fingerprint string) string {
	return filepath.Join(b.dir, fingerprint+".json")
}

// Lookup returns the stored result for a fingerprint, or ok=false on a miss.
// Storage failures come back as *CacheError.
func (b *Base) Lookup(fingerprint string) (calib.SimulationResult, bool, error) {
	raw, err := os.ReadFile(b.path(fingerprint))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &CacheError{Op: "read", Cause: err}
	}
	var entry entryFile
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, &CacheError{Op: "decode", Cause: err}
	}
	return calib.SimulationResult(entry.SimulationData), true, nil
}

// Store persists a new cache entry. The write goes to a temporary file that
// is renamed into place, so a concurrent Lookup sees the entry fully or not
// at all. A fingerprint that already exists is left untouched: entries are
// immutable and a duplicate store is a no-op.
func (b *Base) Store(fingerprint string, pv calib.ParameterVector, result calib.SimulationResult) error {
	final := b.path(fingerprint)
	if _, err := os.Stat(final); err == nil {
		return nil
	}

	entry := entryFile{
		Parameters:     json.RawMessage(pv.CanonicalJSON()),
		SimulationData: result,
	}
	raw, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return &CacheError{Op: "encode", Cause: err}
	}

	tmp, err := os.CreateTemp(b.dir, "."+fingerprint+".tmp-*")
	if err != nil {
		return &CacheError{Op: "write", Cause: err}
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &CacheError{Op: "write", Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &CacheError{Op: "write", Cause: err}
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return &CacheError{Op: "rename", Cause: err}
	}
	logrus.Debugf("knowledge base: stored %s…", fingerprint[:10])
	return nil
}

// Entries decodes every cache record in the base, skipping files that fail
// to decode. Used to warm-start the optimizer with prior observations.
func (b *Base) Entries() ([]Entry, error) {
	dirents, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, &CacheError{Op: "list", Cause: err}
	}
	var entries []Entry
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(b.dir, name))
		if err != nil {
			logrus.Warnf("knowledge base: skipping unreadable entry %s: %v", name, err)
			continue
		}
		var ef entryFile
		if err := json.Unmarshal(raw, &ef); err != nil {
			logrus.Warnf("knowledge base: skipping corrupt entry %s: %v", name, err)
			continue
		}
		var params map[string]any
		if err := json.Unmarshal(ef.Parameters, &params); err != nil {
			logrus.Warnf("knowledge base: skipping entry %s with bad parameters: %v", name, err)
			continue
		}
		entries = append(entries, Entry{
			Fingerprint: strings.TrimSuffix(name, ".json"),
			Parameters:  params,
			Result:      calib.SimulationResult(ef.SimulationData),
		})
	}
	return entries, nil
}

// History adapts Entries to the dispatch loop's warm-start interface.
func (b *Base) History() ([]calib.HistoryEntry, error) {
	entries, err := b.Entries()
	if err != nil {
		return nil, err
	}
	out := make([]calib.HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = calib.HistoryEntry{Parameters: e.Parameters, Result: e.Result}
	}
	return out, nil
}
