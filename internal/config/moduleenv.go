package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModuleEnv is per-module extra environment variables, injected into each
// instance's init message at spawn (§4.3's InitPayload.env). This is a
// manifest-adjacent operator file rather than boot Config: operators edit
// it per deployment without touching the TOML/env-var-driven Config.
type ModuleEnv map[string]map[string]string

// LoadModuleEnv reads a YAML file mapping module name to a flat string/string
// env table. A missing file yields an empty ModuleEnv, not an error, since
// most deployments need no per-module overrides at all.
func LoadModuleEnv(path string) (ModuleEnv, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ModuleEnv{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ModuleEnv
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if parsed == nil {
		parsed = ModuleEnv{}
	}
	return parsed, nil
}
