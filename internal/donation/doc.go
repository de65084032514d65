// Package donation defines the Donation record shared by the feed adapter,
// the progress reconciler and the HTTP surface, together with the fixed
// sample pools used by test mode and the disabled-feed demo script.
package donation
