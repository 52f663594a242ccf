// Package trace persists executed bridge operations to a SQLite database.
//
// A Recorder is installed as the engine observer. It queues records without
// blocking the engine and writes them in batched transactions from its own
// goroutine; records that arrive while the queue is full are counted as
// dropped against the session.
package trace
