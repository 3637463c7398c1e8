// Package store selects a persist.Store backend from configuration.
//
// Backends:
//   - memory: persist.Memory, lost on exit
//   - redis:  redisstore, shared across processes, entries expire
//   - bolt:   boltstore, a single local file
package store
