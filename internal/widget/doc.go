// Package widget resolves the per-load overlay configuration from built-in
// defaults, the page query string and the environment-supplied feed settings.
package widget
