// Package scavenge removes records that are no longer needed from sealed
// chunks of the log.
//
// A run targets a ScavengePoint and has two stages. Chunk execution visits
// every physical chunk below the point's position and, based on the chunk's
// accumulated weight, skips it, leaves it to the archiver, starts its
// removal or rewrites it without its discarded records. Cleanup then drops
// the stream bookkeeping that chunk execution consumed.
//
// Progress is persisted as a Checkpoint after every contiguous run of
// finished chunks, so an interrupted run resumes without skipping work.
package scavenge
