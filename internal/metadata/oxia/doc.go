// Package oxia implements the MetadataStore interface using Oxia.
//
// The scavenger keeps its checkpoint, chunk weights and per-stream discard
// data in Oxia so that an interrupted run can resume on any node.
//
// Usage:
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "chunklog",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// Ephemeral Keys:
//
// Put with metadata.Ephemeral creates keys that are deleted when the client
// session ends. The scavenge run lock is ephemeral so that a crashed node
// never blocks later runs.
//
// Range Deletes:
//
// DeleteRange maps onto Oxia's range delete and is used to reset chunk
// weights and to clear stream bookkeeping during cleanup.
package oxia
