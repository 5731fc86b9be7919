// Package store defines the outreach data model and the repository contract
// every stage reads and writes through. Implementations live in
// internal/storage; this package must not import database drivers.
package store
