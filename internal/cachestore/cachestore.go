// Package cachestore implements the on-disk build cache (spec §4.4): one
// directory per fingerprint holding a JSON result envelope plus raw
// per-format artifact files, and a ".compute" marker file used as a
// cross-process mutex while a build is in flight. Layout and the
// startup sweep of stale markers follow original_source/occilib/
// CadLibrary.py's is_cached/checkin_script_result_in_cache.
package cachestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/occi-cad/occi-server/internal/broker"
)

const (
	envelopeName = "result.json"
	markerSuffix = ".compute"
)

// Store is the on-disk cache rooted at a directory, one subtree per
// namespace holding one subdirectory per fingerprint. Callers scope
// namespace to "<org>/<name>/<version>/<name>-cache" (Script.CacheNamespace)
// so the on-disk layout matches spec §4.4/§8 literally; Store itself treats
// namespace as an opaque path segment.
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates a Store rooted at root. root is created on first write if it
// does not yet exist.
func New(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger}
}

// Root returns the cache's root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) entryDir(namespace, fingerprint string) string {
	return filepath.Join(s.root, filepath.FromSlash(namespace), fingerprint)
}

func (s *Store) markerPath(namespace, fingerprint, taskID string) string {
	return filepath.Join(s.entryDir(namespace, fingerprint), taskID+markerSuffix)
}

// RequiredDocs names the archiyou "<doc>.pdf" files (already resolved from a
// request's `docs` setting and pre-filtered against the script's declared
// doc names) that a cached bundle must already contain. is_cached/get_cached
// are the only operations spec §4.4 gives a settings→result-mapping rule
// for; every other engine passes nil here and the check is a no-op.
type RequiredDocs []string

// satisfiedBy reports whether every required doc name has a matching
// "<name>.pdf" entry in a result's auxiliary files.
func (r RequiredDocs) satisfiedBy(res broker.Result) bool {
	for _, name := range r {
		if _, ok := res.Files[name+".pdf"]; !ok {
			return false
		}
	}
	return true
}

// IsCached reports whether a committed result envelope exists for the given
// namespace and fingerprint, and (for archiyou's docs setting) whether it
// already contains every doc the caller is asking for.
func (s *Store) IsCached(namespace, fingerprint string, required RequiredDocs) bool {
	res, ok, err := s.GetCached(namespace, fingerprint, required)
	return err == nil && ok && res.Success
}

// GetCached loads the full result envelope for a namespace/fingerprint pair.
// Returns (zero, false, nil) when nothing is cached, or when it is cached
// but missing one of the required docs (spec §4.4) — the caller should
// treat that the same as a cache miss and recompute.
func (s *Store) GetCached(namespace, fingerprint string, required RequiredDocs) (broker.Result, bool, error) {
	raw, err := os.ReadFile(filepath.Join(s.entryDir(namespace, fingerprint), envelopeName))
	if errors.Is(err, os.ErrNotExist) {
		return broker.Result{}, false, nil
	}
	if err != nil {
		return broker.Result{}, false, fmt.Errorf("read cached result: %w", err)
	}
	var res broker.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return broker.Result{}, false, fmt.Errorf("decode cached result: %w", err)
	}
	if !required.satisfiedBy(res) {
		return broker.Result{}, false, nil
	}
	return res, true, nil
}

// GetCachedArtifact returns just the raw bytes of one artifact format,
// narrowing the cached bundle to what a client asked for (spec §4.4) without
// decoding the full envelope. Returns (nil, false, nil) when the envelope or
// that format's file is missing.
func (s *Store) GetCachedArtifact(namespace, fingerprint string, format broker.Format) ([]byte, bool, error) {
	path := filepath.Join(s.entryDir(namespace, fingerprint), artifactFileName(format))
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached artifact: %w", err)
	}
	return raw, true, nil
}

func artifactFileName(format broker.Format) string {
	return "result." + string(format)
}

// MarkInFlight attempts to become the single builder for a namespace/
// fingerprint pair by exclusively creating its marker file. acquired is true
// only for the caller that wins the race; every other caller observes
// acquired=false and should instead CheckInFlight/poll.
func (s *Store) MarkInFlight(namespace, fingerprint, taskID string) (acquired bool, err error) {
	dir := s.entryDir(namespace, fingerprint)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false, fmt.Errorf("create cache dir: %w", err)
	}
	f, err := os.OpenFile(s.markerPath(namespace, fingerprint, taskID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create in-flight marker: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(taskID); err != nil {
		return false, fmt.Errorf("write in-flight marker: %w", err)
	}
	return true, nil
}

// CheckInFlight reports whether some task is currently building a
// namespace/fingerprint pair, and returns its task id if so.
func (s *Store) CheckInFlight(namespace, fingerprint string) (taskID string, inFlight bool, err error) {
	dir := s.entryDir(namespace, fingerprint)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("list cache dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), markerSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		return string(raw), true, nil
	}
	return "", false, nil
}

// Commit writes the finished result as the committed envelope plus one raw
// artifact file per present format, then clears the in-flight marker for
// taskID. Commit is safe to call exactly once per successful build; callers
// that lose the dispatcher race never call it (spec §4.5/§9: only the
// winner of the redirect-vs-result race, or the detached monitor after it,
// commits).
func (s *Store) Commit(namespace, fingerprint, taskID string, result broker.Result) error {
	dir := s.entryDir(namespace, fingerprint)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, envelopeName), raw); err != nil {
		return fmt.Errorf("write result envelope: %w", err)
	}

	for format := range result.Models {
		data, err := result.ModelBytes(format)
		if err != nil {
			return fmt.Errorf("decode model %q: %w", format, err)
		}
		if err := writeFileAtomic(filepath.Join(dir, artifactFileName(format)), data); err != nil {
			return fmt.Errorf("write artifact %q: %w", format, err)
		}
	}
	for name, data := range result.Files {
		if strings.Contains(name, "..") || filepath.IsAbs(name) {
			return fmt.Errorf("refusing unsafe auxiliary file name %q", name)
		}
		if err := os.MkdirAll(filepath.Join(dir, "files"), 0o750); err != nil {
			return fmt.Errorf("create files dir: %w", err)
		}
		if err := writeFileAtomic(filepath.Join(dir, "files", name), data); err != nil {
			return fmt.Errorf("write auxiliary file %q: %w", name, err)
		}
	}

	if err := s.clearMarker(namespace, fingerprint, taskID); err != nil {
		s.logger.Warn("cachestore.clear_marker_failed", "namespace", namespace, "fingerprint", fingerprint, "err", err)
	}
	return nil
}

// Abort clears the in-flight marker without committing a result, releasing
// the namespace/fingerprint pair for the next caller to attempt (used when a
// build fails or is abandoned).
func (s *Store) Abort(namespace, fingerprint, taskID string) error {
	return s.clearMarker(namespace, fingerprint, taskID)
}

func (s *Store) clearMarker(namespace, fingerprint, taskID string) error {
	err := os.Remove(s.markerPath(namespace, fingerprint, taskID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// writeFileAtomic writes data by first writing to a temp file in the same
// directory, then renaming it into place, so readers never observe a
// partially-written result.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Sweep walks the whole cache tree at startup and removes stale ".compute"
// markers left behind by a process that died mid-build, the way a crashed
// build otherwise wedges its fingerprint as permanently in-flight. It
// returns the number of markers removed.
func (s *Store) Sweep() (int, error) {
	removed := 0
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), markerSuffix) {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			s.logger.Warn("cachestore.sweep_remove_failed", "path", path, "err", rmErr)
			return nil
		}
		removed++
		s.logger.Info("cachestore.sweep_removed_stale_marker", "path", path)
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweep cache: %w", err)
	}
	return removed, nil
}
