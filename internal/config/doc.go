// Package config loads the application configuration.
//
// Settings come from compiled defaults, overlaid by an optional YAML file,
// then by environment variables for secrets (a .env file may supply those).
// The city table lives here and is handed to the pipeline at construction.
package config
