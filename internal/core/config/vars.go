package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// loadVarsFiles reads YAML prompt variable files relative to baseDir and
// merges them in declaration order. Later files override earlier ones.
func loadVarsFiles(baseDir string, files []string) (map[string]any, error) {
	merged := make(map[string]any)

	for _, file := range files {
		data, err := os.ReadFile(resolvePath(baseDir, file))
		if err != nil {
			return nil, fmt.Errorf("read vars file %q: %w", file, err)
		}

		var vars map[string]any
		if err := yaml.Unmarshal(data, &vars); err != nil {
			return nil, fmt.Errorf("parse vars file %q: %w", file, err)
		}

		mergeMaps(merged, vars)
	}

	return merged, nil
}

func resolvePath(baseDir, file string) string {
	if filepath.IsAbs(file) || baseDir == "" {
		return file
	}
	return filepath.Join(baseDir, file)
}

// mergeMaps recursively merges src into dst. Nested maps merge; any other
// value replaces what dst held.
func mergeMaps(dst, src map[string]any) {
	for key, srcVal := range src {
		srcMap, ok := srcVal.(map[string]any)
		if !ok {
			dst[key] = srcVal
			continue
		}

		if dstMap, ok := dst[key].(map[string]any); ok {
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[key] = srcMap
	}
}
