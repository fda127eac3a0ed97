package registry

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// defaultCatalogYAML is the built-in endpoint catalog, used when no
// catalog path is configured.
//
//go:embed catalog.yaml
var defaultCatalogYAML []byte

type catalogFile struct {
	Endpoints []model.EndpointConfig `yaml:"endpoints"`
}

// LoadCatalog seeds the registry from the YAML catalog at path, or from
// the embedded default when path is empty. Returns the number of
// endpoints registered.
func (r *Registry) LoadCatalog(path string) (int, error) {
	data := defaultCatalogYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("registry: read catalog %s: %w", path, err)
		}
		data = b
	}

	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return 0, fmt.Errorf("registry: parse catalog: %w", err)
	}

	n := 0
	for _, cfg := range cat.Endpoints {
		if cfg.Priority == "" {
			cfg.Priority = model.PriorityMedium
		}
		if err := r.Register(cfg); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
