// Package daemon runs remote I/O off the ingestion path.
//
// The daemon:
//  1. Queues recorded events in submission order (Queue)
//  2. Pushes them to the remote tables from a single goroutine (Worker)
//  3. Re-probes connectivity on a ticker while OFFLINE
//  4. Handles the operator's manual resync request
//  5. Stops after draining everything queued before the shutdown sentinel
//
// It also provides SpoolWatcher, a token source that turns files dropped
// into a spool directory into scans.
package daemon
