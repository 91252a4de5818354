// Package builtin embeds the schemas of the events the pipeline itself
// emits and the core business events of the site.
package builtin

import (
	"embed"

	"github.com/theburgerllc/nycayen-telemetry/internal/schema"
)

//go:embed *.yaml
var files embed.FS

// Register loads every embedded schema into reg.
func Register(reg *schema.Registry) error {
	_, err := reg.LoadFS(files, ".")
	return err
}

// NewRegistry returns a registry preloaded with the built-in schemas.
func NewRegistry() (*schema.Registry, error) {
	reg := schema.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
