// Package stream adapts stage transfers into io.Reader / io.WriteCloser
// streams backed by pooled sessions.
//
// A stage transfer is a single SQL round trip: one PUT consumes one
// payload, one GET produces one. Workflow tasks, on the other hand, want
// ordinary file handles they can write into or read out of incrementally.
// This package bridges the two by pinning one session per stream and
// running the transfer on a background task for the stream's whole life:
//
//	OpenWriter                          OpenReader
//	    |                                   |
//	    v                                   v
//	UploadWriter                      DownloadReader
//	    |  Write -> chunk pipe            |  Read <- io.Pipe
//	    v          (bounded)              v
//	upload task: PUT reads pipe       download task: GET writes pipe
//	    |                                   |
//	    v                                   v
//	session released exactly once     session released exactly once
//
// Writes flow through a bounded chunk pipe sized BufferSize/ChunkSize, so
// a producer that outruns the network blocks instead of growing the heap.
// Close seals the pipe, which the upload task sees as end of payload; the
// upload's outcome, success or failure, is Close's return value. Until
// Close returns nil the remote object must not be assumed to exist.
//
// Reads bridge the GET through an io.Pipe. A download failure is parked
// on the pipe and surfaces on the next Read; closing the reader before
// EOF aborts the transfer, which is deliberate and not an error for the
// caller.
//
// Sessions are owned by the background task, never by the caller: the
// task releases its session exactly once when the transfer ends, sending
// it back to the pool on success and condemning it when the transfer
// failed or was cut short mid-result. Upload concurrency is additionally
// bounded by a worker semaphore, so a task fan-out cannot monopolize the
// session pool with writers.
package stream
