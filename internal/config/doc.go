// Package config loads and validates the relaymeshd YAML configuration.
//
// Load(path) parses the `server:` section, fills defaults, and validates
// structural constraints (port ranges, positive timeouts, the hard cap on
// max_message_size).
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the reloaded config; a failed reload keeps the previous
// config active.
package config
