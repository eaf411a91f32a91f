// Package catalog implements the library loader and in-memory indexes: disk
// discovery of script records, version ordering, and the endpoint registry
// backing them. See spec §4.1.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/occi-cad/occi-server/internal/script"
)

// scriptExtensions maps recognized source file extensions to engines via
// script.EngineForExtension; any file with one of these extensions is a
// candidate script source.
var scriptExtensions = []string{".py", ".js", ".scad"}

// Catalog holds the in-memory indexes over a disk-backed script library.
type Catalog struct {
	root   string
	logger *slog.Logger

	mu              sync.RWMutex
	byID            map[string]*script.Script   // "org/name/version" -> script
	byNamespace     map[string][]string         // "org/name" -> sorted versions
	latestByNamespace map[string]*script.Script // "org/name" -> latest script
}

// New creates an empty catalog rooted at root. Call Reload to populate it.
func New(root string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		root:              root,
		logger:            logger,
		byID:              make(map[string]*script.Script),
		byNamespace:       make(map[string][]string),
		latestByNamespace: make(map[string]*script.Script),
	}
}

// Root returns the catalog's backing directory.
func (c *Catalog) Root() string { return c.root }

// Get resolves a script record. An empty version resolves to latest.
func (c *Catalog) Get(org, name, version string) (*script.Script, error) {
	org, name = strings.ToLower(org), strings.ToLower(name)
	c.mu.RLock()
	defer c.mu.RUnlock()

	ns := org + "/" + name
	if version == "" {
		s, ok := c.latestByNamespace[ns]
		if !ok {
			return nil, fmt.Errorf("no scripts found in namespace %q", ns)
		}
		return s, nil
	}
	s, ok := c.byID[ns+"/"+version]
	if !ok {
		return nil, fmt.Errorf("script %q not found", ns+"/"+version)
	}
	return s, nil
}

// Versions returns the ordered version list for a namespace.
func (c *Catalog) Versions(org, name string) []string {
	org, name = strings.ToLower(org), strings.ToLower(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	vs := c.byNamespace[org+"/"+name]
	out := make([]string, len(vs))
	copy(out, vs)
	return out
}

// LatestAll returns a snapshot of namespace -> latest script.
func (c *Catalog) LatestAll() map[string]*script.Script {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*script.Script, len(c.latestByNamespace))
	for k, v := range c.latestByNamespace {
		out[k] = v
	}
	return out
}

// Add writes a new script record to disk (code + canonical sidecar JSON),
// then inserts it into the in-memory indexes. It fails if the record exists
// and overwrite is false, per spec §4.1.
func (c *Catalog) Add(s *script.Script, overwrite bool) error {
	s.NormalizeIdentity()
	if s.Org == "" || s.Name == "" || len(s.Code) < 1 {
		return fmt.Errorf("org, name and code are required to publish a script")
	}
	if _, err := s.ParsedVersion(); err != nil {
		return fmt.Errorf("invalid version %q: %w", s.Version, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byID[s.ID()]; exists && !overwrite {
		return fmt.Errorf("script %q already exists (overwrite not requested)", s.ID())
	}

	dir := filepath.Join(c.root, s.Org, s.Name, s.Version)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create script directory: %w", err)
	}

	ext, err := extensionForEngine(s.EngineTag)
	if err != nil {
		return err
	}
	codePath := filepath.Join(dir, s.Name+ext)
	if err := os.WriteFile(codePath, []byte(s.Code), 0o640); err != nil {
		return fmt.Errorf("write script code: %w", err)
	}

	sidecarPath := filepath.Join(dir, s.Name+".json")
	buf, err := canonicalSidecarJSON(s)
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := os.WriteFile(sidecarPath, buf, 0o640); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}

	c.insertLocked(s)
	return nil
}

// Reload performs a full rescan of the catalog's root directory, replacing
// all in-memory indexes.
func (c *Catalog) Reload() error {
	records, err := scanDirectory(c.root, c.logger)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID = make(map[string]*script.Script)
	c.byNamespace = make(map[string][]string)
	c.latestByNamespace = make(map[string]*script.Script)
	for _, s := range records {
		c.insertLocked(s)
	}
	return nil
}

// insertLocked adds s to the indexes and recomputes its namespace's version
// order and latest pointer. Caller must hold c.mu.
func (c *Catalog) insertLocked(s *script.Script) {
	ns := s.Namespace()
	c.byID[s.ID()] = s

	versions := c.byNamespace[ns]
	found := false
	for _, v := range versions {
		if v == s.Version {
			found = true
			break
		}
	}
	if !found {
		versions = append(versions, s.Version)
	}
	if len(versions) == 1 {
		c.byNamespace[ns] = versions
		c.latestByNamespace[ns] = s
		return
	}
	sorted, invalid := script.SortVersions(versions)
	for _, bad := range invalid {
		c.logger.Warn("catalog.insert: skipping unparseable version", "namespace", ns, "version", bad)
	}
	c.byNamespace[ns] = sorted
	latestVersion := script.Latest(sorted)
	c.latestByNamespace[ns] = c.byID[ns+"/"+latestVersion]
}

func extensionForEngine(e script.Engine) (string, error) {
	switch e {
	case script.EngineCadQuery:
		return ".py", nil
	case script.EngineArchiyou:
		return ".js", nil
	case script.EngineOpenSCAD:
		return ".scad", nil
	default:
		return "", fmt.Errorf("unknown engine %q", e)
	}
}

// canonicalSidecarJSON renders a script as the sidecar JSON shape spec §6
// describes, with parameters emitted in declaration order so a reload
// recovers the same order it was published with.
func canonicalSidecarJSON(s *script.Script) ([]byte, error) {
	var b strings.Builder
	b.WriteString("{\n")
	fmt.Fprintf(&b, "  \"name\": %s,\n", jsonString(s.Name))
	fmt.Fprintf(&b, "  \"org\": %s,\n", jsonString(s.Org))
	fmt.Fprintf(&b, "  \"version\": %s,\n", jsonString(s.Version))
	fmt.Fprintf(&b, "  \"title\": %s,\n", jsonString(s.Metadata.Title))
	fmt.Fprintf(&b, "  \"author\": %s,\n", jsonString(s.Metadata.Author))
	fmt.Fprintf(&b, "  \"license\": %s,\n", jsonString(string(s.Metadata.License)))
	fmt.Fprintf(&b, "  \"description\": %s,\n", jsonString(s.Metadata.Description))
	fmt.Fprintf(&b, "  \"units\": %s,\n", jsonString(string(s.Metadata.Units)))
	fmt.Fprintf(&b, "  \"published\": %t,\n", s.Metadata.Published)
	fmt.Fprintf(&b, "  \"safe\": %t,\n", s.Metadata.Safe)
	fmt.Fprintf(&b, "  \"public_code\": %t,\n", s.PublicCode)
	fmt.Fprintf(&b, "  \"cad_engine\": %s,\n", jsonString(string(s.EngineTag)))
	fmt.Fprintf(&b, "  \"cad_engine_version\": %s,\n", jsonString(s.EngineVersion))

	cfgBytes, err := json.Marshal(s.EngineConfig)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(&b, "  \"cad_engine_config\": %s,\n", string(cfgBytes))

	b.WriteString("  \"params\": {\n")
	for i, name := range s.ParamOrder {
		d := s.Params[name]
		pBytes, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		comma := ","
		if i == len(s.ParamOrder)-1 {
			comma = ""
		}
		fmt.Fprintf(&b, "    %s: %s%s\n", jsonString(name), string(pBytes), comma)
	}
	b.WriteString("  },\n")

	presetBytes, err := json.Marshal(s.Presets)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(&b, "  \"param_presets\": %s\n", string(presetBytes))
	b.WriteString("}\n")
	return []byte(b.String()), nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// sortedDirEntries lists a directory's entries sorted by name, for
// deterministic load order.
func sortedDirEntries(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}
