package providers

import (
	"fmt"

	"github.com/theburgerllc/nycayen-telemetry/internal/config"
)

// Build constructs providers from configuration and registers them on f.
// Providers registered before an error stay on f; the caller closes f.
func Build(f *FanOut, cfgs []config.ProviderConfig) error {
	for _, c := range cfgs {
		var p Provider
		switch c.Type {
		case "log":
			p = NewLogProvider(c.Name, nil)
		case "datalayer":
			p = NewDataLayer(c.Name, c.QueueSize)
		case "webhook":
			if c.Endpoint == "" {
				return fmt.Errorf("provider %s: endpoint is required", c.Name)
			}
			p = NewWebhook(c.Name, c.Endpoint, c.QueueSize, nil)
		default:
			return fmt.Errorf("provider %s: unsupported type %q", c.Name, c.Type)
		}
		f.Add(p, c.Events...)
	}
	return nil
}
