// Package application provides application initialization and dependency wiring.
// It opens the progress store, starts the overlay runtime with its donation
// feed, and builds the handlers, routers and HTTP server, keeping the main
// package focused on CLI parsing and orchestration.
package application
