package catalog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/occi-cad/occi-server/internal/script"
)

// scanDirectory walks <root>/<org>/<name>/<version>/ looking for script
// source files, parses each one's sidecar (if any), and returns the
// resulting records. Per spec §4.1/§7, a malformed individual record is
// logged and skipped rather than aborting the whole load.
func scanDirectory(root string, logger *slog.Logger) ([]*script.Script, error) {
	var records []*script.Script

	orgEntries, err := sortedDirEntries(root)
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil
		}
		return nil, err
	}

	for _, orgEntry := range orgEntries {
		if !orgEntry.IsDir() {
			continue
		}
		orgDir := filepath.Join(root, orgEntry.Name())
		nameEntries, err := sortedDirEntries(orgDir)
		if err != nil {
			logger.Warn("catalog.scan: cannot read org directory", "org", orgEntry.Name(), "error", err)
			continue
		}
		for _, nameEntry := range nameEntries {
			if !nameEntry.IsDir() {
				continue
			}
			nameDir := filepath.Join(orgDir, nameEntry.Name())
			versionEntries, err := sortedDirEntries(nameDir)
			if err != nil {
				logger.Warn("catalog.scan: cannot read name directory", "path", nameDir, "error", err)
				continue
			}
			for _, versionEntry := range versionEntries {
				if !versionEntry.IsDir() {
					continue
				}
				versionDir := filepath.Join(nameDir, versionEntry.Name())
				rec, err := loadOne(versionDir, orgEntry.Name(), nameEntry.Name(), versionEntry.Name(), logger)
				if err != nil {
					logger.Warn("catalog.scan: skipping record", "path", versionDir, "error", err)
					continue
				}
				if rec != nil {
					records = append(records, rec)
				}
			}
		}
	}
	return records, nil
}

// loadOne loads a single <org>/<name>/<version>/ directory into a record.
// Returns (nil, nil) when the directory has no recognizable script source.
func loadOne(dir, pathOrg, pathName, pathVersion string, logger *slog.Logger) (*script.Script, error) {
	sourcePath, ext, err := findScriptSource(dir)
	if err != nil {
		return nil, err
	}
	if sourcePath == "" {
		return nil, nil
	}

	engine, err := script.EngineForExtension(ext)
	if err != nil {
		return nil, err
	}

	code, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, err
	}

	sc, order, err := findAndParseSidecar(dir, logger)
	if err != nil {
		return nil, err
	}

	rec := &script.Script{
		Org:        strings.ToLower(pathOrg),
		Name:       strings.ToLower(pathName),
		Version:    pathVersion,
		EngineTag:  engine,
		Code:       string(code),
		ParamOrder: order,
	}

	var rawParams map[string]sidecarParam
	if sc != nil {
		applySidecar(rec, sc, pathOrg, pathName, pathVersion, logger)
		rawParams = sc.Params
	}

	if _, err := rec.ParsedVersion(); err != nil {
		return nil, err
	}

	params, err := upgradeParams(rawParams, order)
	if err != nil {
		return nil, err
	}
	rec.Params = params

	return rec, nil
}

// applySidecar fills rec's fields from the parsed sidecar, preferring
// sidecar values over path-derived ones, with sidecar org/name taking
// precedence when present (spec §4.1, §9 open question #3).
func applySidecar(rec *script.Script, sc *sidecar, pathOrg, pathName, pathVersion string, logger *slog.Logger) {
	if sc.Org != "" {
		if !strings.EqualFold(sc.Org, pathOrg) {
			logger.Warn("catalog.load: sidecar org disagrees with path, using sidecar", "path_org", pathOrg, "sidecar_org", sc.Org)
		}
		rec.Org = strings.ToLower(sc.Org)
	}
	if sc.Name != "" {
		if !strings.EqualFold(sc.Name, pathName) {
			logger.Warn("catalog.load: sidecar name disagrees with path, using sidecar", "path_name", pathName, "sidecar_name", sc.Name)
		}
		rec.Name = strings.ToLower(sc.Name)
	}
	if sc.Version != "" {
		rec.Version = sc.Version
	} else {
		rec.Version = pathVersion
	}

	rec.Metadata = script.Metadata{
		Title:       sc.Title,
		Author:      sc.Author,
		License:     script.License(sc.License),
		Description: sc.Description,
		Units:       script.Units(sc.Units),
	}
	if sc.Published != nil {
		rec.Metadata.Published = *sc.Published
	}
	if sc.Safe != nil {
		rec.Metadata.Safe = *sc.Safe
	}
	if sc.PublicCode != nil {
		rec.PublicCode = *sc.PublicCode
	}
	if sc.CadEngine != "" {
		rec.EngineTag = script.Engine(sc.CadEngine)
	}
	rec.EngineVersion = sc.CadEngineVersion
	rec.EngineConfig = sc.CadEngineConfig
	rec.Presets = sc.ParamPresets
}

// findScriptSource looks for the first recognized script source file in
// dir, returning its path and extension. Multiple source files in the same
// directory is not expected; the first match (in sorted order) wins.
func findScriptSource(dir string) (path string, ext string, err error) {
	entries, err := sortedDirEntries(dir)
	if err != nil {
		return "", "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		candidateExt := filepath.Ext(e.Name())
		for _, known := range scriptExtensions {
			if candidateExt == known {
				return filepath.Join(dir, e.Name()), candidateExt, nil
			}
		}
	}
	return "", "", nil
}

// findAndParseSidecar finds the first *.json file in dir (warning if there
// is more than one, per spec §4.1) and parses it. Returns (nil, nil, nil)
// if none exists, in which case a minimal name-only record is produced.
func findAndParseSidecar(dir string, logger *slog.Logger) (*sidecar, []string, error) {
	entries, err := sortedDirEntries(dir)
	if err != nil {
		return nil, nil, err
	}
	var jsonFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			jsonFiles = append(jsonFiles, e.Name())
		}
	}
	if len(jsonFiles) == 0 {
		return nil, nil, nil
	}
	if len(jsonFiles) > 1 {
		logger.Warn("catalog.load: multiple sidecar files found, using the first", "dir", dir, "files", jsonFiles)
	}

	raw, err := os.ReadFile(filepath.Join(dir, jsonFiles[0]))
	if err != nil {
		return nil, nil, err
	}

	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, nil, err
	}
	order, err := paramOrderFromJSON(raw)
	if err != nil {
		return nil, nil, err
	}
	return &sc, order, nil
}
