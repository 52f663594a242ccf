// Package queue implements the bounded byte FIFOs that decouple the USB
// transport from the command engine.
//
// Two queues exist in a running bridge: RX carries command bytes from the
// host toward the engine, and TX carries response bytes from the engine back
// to the host. Each queue has a fixed capacity chosen at construction time
// and never drops data: a producer facing a full queue blocks until the
// consumer frees space, and a consumer facing an empty queue blocks until
// the producer supplies data.
//
// # Blocking and Non-Blocking Operations
//
// Every operation comes in two forms. The Try variants ([Queue.TryPush],
// [Queue.TryPop], [Queue.Write], [Queue.Read]) never block and report how
// much progress was made. The context-aware variants ([Queue.Push],
// [Queue.Pop], [Queue.PushAll], [Queue.ReadAvailable]) suspend the caller
// until progress is possible, the context is cancelled, or the queue is
// closed.
//
// Callers that must multiplex a queue with other events can select on
// [Queue.Readable] and [Queue.Writable], which are signalled whenever data or
// space becomes available.
//
// # Reset
//
// [Queue.Reset] discards all buffered bytes. It is used only when the host
// session ends (USB disconnect or bus reset), which is the single case where
// buffered data is intentionally thrown away.
package queue
