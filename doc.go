// Package ijsonl provides an embedded append-only store for heterogeneous
// JSON records with per-field byte-span indexes.
//
// Records are serialized once, appended to a newline-delimited data log, and
// scanned structurally so that every (possibly nested) field path maps to the
// exact byte span of its serialized value. Retrieval slices the log directly:
// fetching "address.city" of row 4093 reads one 16-byte index entry and one
// span, without parsing the record.
//
// # Quick start
//
//	ctx := context.Background()
//	store, err := ijsonl.Open("./data")
//	if err != nil {
//	    panic(err)
//	}
//	defer store.Close()
//
//	row, _ := store.AddRecord(ctx, map[string]any{
//	    "name":    "Alice",
//	    "address": map[string]any{"city": "NY"},
//	})
//
//	raw, _ := store.GetRecord(ctx, row)            // whole record bytes
//	city, ok, _ := store.GetField(ctx, row, "address.city") // []byte(`"NY"`)
//	_ = raw
//	_, _ = city, ok
//
// Field values come back as raw serialized bytes; decoding them into typed
// values is the caller's business (codec.JSON.Unmarshal, or any JSON
// decoder).
//
// # Model
//
// Rows are zero-based and assigned in append order, never reused. Fields are
// discovered, never declared: the set of known paths only grows. Array
// elements are indexed like object fields, with the element index as a path
// segment ("pets.0.type"). A field absent from a row is a normal lookup
// outcome, not an error.
//
// # Concurrency
//
// One writer, many readers. AddRecord is internally serialized; calls from
// multiple goroutines are safe but sequential. Readers never block writers
// and may run while an append is in flight: they only see rows committed
// before the read began.
//
// # Durability
//
// The data log is the source of truth. Index files trail it only across a
// crash; Open replays the unindexed log tail before returning, and truncates
// a torn, unterminated final record. WithSyncWrites trades throughput for an
// fsync inside every append.
package ijsonl
