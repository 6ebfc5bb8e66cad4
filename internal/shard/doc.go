// Package shard runs one large task as many concurrent shards and
// reassembles the answer.
//
// A Coordinator owns one aggregation session and is driven entirely by
// messages: announcements, shard reports arriving through the mailbox, and
// close or abort requests. Workers pull shard tasks, run them through the
// dispatcher and report back; they never talk to each other. The Supervisor
// owns worker snapshots and restart policy, so a worker that hits internal
// corruption is restarted from its last good state and reprocesses only the
// shard it was working on.
package shard
