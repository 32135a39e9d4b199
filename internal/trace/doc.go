// Package trace buffers task lifecycle rows and periodically uploads
// them as one TSV snapshot on the work-dir stage. The file is the
// workflow run's trace report; whoever reads it mid-run sees the most
// recent complete snapshot.
package trace
