// Package config loads the energytracker server configuration from YAML.
//
// Config sections:
//   - server       HTTP port, landing document, base dir, body limit, CORS origins
//   - calculator   executable name/dir, error-message label, per-run timeout
//   - metrics      Prometheus text endpoint toggle and path
//
// Load(path) applies defaults before unmarshalling, then validates.
// Default() returns the same defaults when no file is given.
// Watch(ctx, path, fn) hot-reloads the file via fsnotify.
package config
