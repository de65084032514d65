// Package overlay owns the running donation goal session. Every mutation,
// whether it comes from the feed, a timer or an API call, is executed in
// arrival order on a single goroutine, and each resulting state is published
// to subscribers.
package overlay
