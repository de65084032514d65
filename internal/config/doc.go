// Package config loads runtime configuration from multiple sources (YAML files,
// environment variables, dotenv files, CLI flags) with precedence: CLI flags >
// YAML config > Environment variables > Defaults. Donation feed credentials
// are only ever read from the environment.
package config
