// Package lock renews the locks of the jobs a worker is processing.
//
// A claim writes the lock with its ttl. The Manager then batches every
// tracked job into one ExtendLocks call per tick, at half the ttl. A job
// whose lock could not be renewed is no longer owned by the worker: it is
// untracked, its context is cancelled and the failure is reported.
package lock
