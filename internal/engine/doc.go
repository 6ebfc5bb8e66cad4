// Package engine is the scheduler's front door. It runs unsharded tasks
// through the backend dispatcher, and runs sharded sessions by pairing a
// coordinator with a worker runner, persisting session progress to the store
// and streaming it to event subscribers.
package engine
