// Package pipeline runs the four outreach stages: discovery, enrichment,
// delivery and reporting. Each stage processes records one at a time, commits
// every store write on its own and can be re-run safely.
package pipeline
