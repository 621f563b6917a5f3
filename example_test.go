package ijsonl_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/hupe1980/ijsonl"
)

// Example demonstrates appending records and reading single fields back
// without parsing whole records.
func Example() {
	dir, err := os.MkdirTemp("", "ijsonl-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := ijsonl.Open(dir)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.AddRecord(ctx, map[string]any{"name": "Alice", "age": 30}); err != nil {
		log.Fatal(err)
	}
	if _, err := store.AddRecordBytes(ctx, []byte(`{"name": "Bob", "address": {"city": "Berlin"}}`)); err != nil {
		log.Fatal(err)
	}

	// Only the city's bytes are read, not the whole record.
	city, ok, err := store.GetField(ctx, 1, "address.city")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(ok, string(city))

	// Alice has no address; that is not an error.
	_, ok, err = store.GetField(ctx, 0, "address.city")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(ok)

	fmt.Println(store.RecordCount())
	// Output:
	// true "Berlin"
	// false
	// 2
}

// Example_column demonstrates bulk retrieval of one field across a row range.
func Example_column() {
	dir, err := os.MkdirTemp("", "ijsonl-column")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := ijsonl.Open(dir)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, rec := range []string{`{"n": 1}`, `{"other": true}`, `{"n": 3}`} {
		if _, err := store.AddRecordBytes(ctx, []byte(rec)); err != nil {
			log.Fatal(err)
		}
	}

	col, err := store.Column(ctx, "n", 0, 3)
	if err != nil {
		log.Fatal(err)
	}
	for _, v := range col {
		fmt.Printf("%q\n", string(v))
	}
	// Output:
	// "1"
	// ""
	// "3"
}
