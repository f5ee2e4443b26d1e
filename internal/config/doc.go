// Package config loads and validates client configuration from TOML.
//
// Configuration is optional: when no file exists at the default or requested
// location, repository defaults apply. Paths are expanded and normalized
// before validation so the rest of the codebase never sees "~" prefixes.
package config
