// Package mailbox carries shard reports from workers to the coordinator.
// Every message is sealed with a checksum; delivery verifies it, retries
// integrity and transport failures with exponential backoff, and reports
// messages it gives up on to a supervising Reporter.
package mailbox
