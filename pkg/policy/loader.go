package policy

import (
	"crypto/rsa"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Loader scans a policy directory for YAML documents, verifies each
// against a verifying key, checks engine compatibility, and indexes
// the ones that pass by name. A document that fails verification is
// reported and skipped — the loader as a whole does not abort, so one
// bad file does not take down every other policy.
type Loader struct {
	mu         sync.RWMutex
	dir        string
	verifyKey  *rsa.PublicKey
	constraint string
	documents  map[string]Document
}

// NewLoader creates a loader bound to dir, verifying every document
// against verifyKey and requiring a policy_engine_version satisfying
// engineConstraint (a semver constraint, e.g. "^1.0.0").
func NewLoader(dir string, verifyKey *rsa.PublicKey, engineConstraint string) *Loader {
	return &Loader{
		dir:        dir,
		verifyKey:  verifyKey,
		constraint: engineConstraint,
		documents:  make(map[string]Document),
	}
}

// LoadResult records the outcome of one file during LoadAll.
type LoadResult struct {
	FileName string
	Err      error
}

// LoadAll scans the configured directory for *.yaml/*.yml files,
// parsing, verifying, and indexing each. It returns per-file results
// so callers can log failures without treating them as fatal to the
// whole load.
func (l *Loader) LoadAll() ([]LoadResult, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("policy: read policy directory %s: %w", l.dir, err)
	}

	var results []LoadResult
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		if err := l.loadFile(path, entry.Name()); err != nil {
			results = append(results, LoadResult{FileName: entry.Name(), Err: err})
			continue
		}
		results = append(results, LoadResult{FileName: entry.Name()})
	}
	return results, nil
}

func (l *Loader) loadFile(path, name string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	doc, err := ParseDocument(name, raw)
	if err != nil {
		return err
	}
	if err := Verify(doc, l.verifyKey); err != nil {
		return err
	}
	if err := CheckEngineCompatibility(doc, l.constraint); err != nil {
		return err
	}

	l.mu.Lock()
	l.documents[name] = doc
	l.mu.Unlock()
	return nil
}

// Get returns a loaded, verified document by file name.
func (l *Loader) Get(name string) (Document, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.documents[name]
	return d, ok
}

// All returns every loaded, verified document.
func (l *Loader) All() []Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Document, 0, len(l.documents))
	for _, d := range l.documents {
		out = append(out, d)
	}
	return out
}

// Count returns the number of currently loaded documents.
func (l *Loader) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.documents)
}
