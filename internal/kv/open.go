package kv

import "fmt"

// Open builds the durable store named by driver ("sqlite" or "memory").
func Open(driver, path string) (Store, error) {
	switch driver {
	case "sqlite", "":
		return NewSQLiteStore(path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}
