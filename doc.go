// Package humus keeps a local replica of a hierarchical note store in sync
// with a remote authoritative service.
//
// A replica holds notes, checklists with nested items, labels, collaborators
// and media attachments as a graph of nodes. Local edits are tracked per
// field and pushed in the next sync round; remote changes are merged without
// overwriting edits the service has not acknowledged yet. Nodes created
// offline carry provisional IDs until the service assigns permanent ones.
//
// Features:
//
//   - Incremental and full sync rounds, single-flight, with retry and
//     credential refresh.
//   - Field-level dirty tracking; local edits win until acknowledged.
//   - Fractional sort keys for list items, indentation and sorting.
//   - Snapshot persistence (zstd-compressed, BLAKE3-checksummed).
//   - Background auto-sync as an aretw0/lifecycle worker.
//
// Usage:
//
//	replica, err := humus.New(transport,
//		humus.WithSnapshot("replica.humus"),
//		humus.WithLogger(logger),
//	)
//
//	list, _ := replica.Graph.CreateNode(humus.KindList, "")
//	_ = replica.Graph.Mutate(list, humus.FieldTitle, "Groceries")
//	_, _ = replica.Graph.AddItem(list, "Milk", false, humus.PlacementBottom)
//
//	_, err = replica.Sync(ctx)
package humus
