package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// manifestFile is the on-disk shape of a static manifest. Both a bare YAML
// list and a mapping with an "assets" key are accepted.
type manifestFile struct {
	Assets []string `yaml:"assets"`
}

// LoadManifest reads the static asset list from path.
func LoadManifest(path string) ([]string, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes a manifest document and drops blank and duplicate entries.
func ParseManifest(data []byte) ([]string, error) {
	var entries []string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		var mf manifestFile
		if err2 := yaml.Unmarshal(data, &mf); err2 != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
		entries = mf.Assets
	}

	seen := make(map[string]bool, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		if !strings.HasPrefix(e, "/") {
			return nil, fmt.Errorf("manifest entry %q must be an absolute path", e)
		}
		seen[e] = true
		out = append(out, e)
	}
	return out, nil
}

// ResolveManifest returns the manifest file's entries when one is configured,
// otherwise the inline list.
func (g *GatewayConfig) ResolveManifest() ([]string, error) {
	if g.ManifestFile == "" {
		return g.Manifest, nil
	}
	return LoadManifest(g.ManifestFile)
}
