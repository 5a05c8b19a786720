package main

import (
	"embed"
	"path"
	"strings"
)

//go:embed configs/*.yaml
var configsFS embed.FS

// defaultConfigName is the embedded config used when no file is found.
const defaultConfigName = "searchx"

// getEmbeddedConfig returns the raw bytes of an embedded config file.
// name can be with or without the .yaml extension.
func getEmbeddedConfig(name string) ([]byte, error) {
	if !strings.HasSuffix(name, ".yaml") {
		name += ".yaml"
	}
	return configsFS.ReadFile(path.Join("configs", name))
}
