package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/zapgo/zapgo/internal/ledger"
	"github.com/zapgo/zapgo/internal/storage"
	bolt "go.etcd.io/bbolt"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <boltdb-path> <block-index>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "This tool rewrites the distance of one ledger block without updating its hash\n")
		os.Exit(1)
	}

	dbPath := os.Args[1]
	index, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid block index %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}

	fmt.Printf("Opening BoltDB: %s\n", dbPath)
	fmt.Printf("Target block: %d\n", index)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open BoltDB: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(storage.LedgerBucket)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", storage.LedgerBucket)
		}

		key := storage.IndexKey(index)
		data := bucket.Get(key)
		if data == nil {
			return fmt.Errorf("no block at index %d", index)
		}

		var block ledger.Block
		if err := json.Unmarshal(data, &block); err != nil {
			return fmt.Errorf("failed to decode block: %w", err)
		}

		fmt.Printf("Found block %d (%s -> %s)\n", block.Index, block.From, block.To)
		fmt.Printf("  Distance: %s\n", block.Distance)
		fmt.Printf("  Hash: %s\n", block.Hash)

		if block.Distance == "1.0" {
			block.Distance = "2.0"
		} else {
			block.Distance = "1.0"
		}

		corrupted, err := json.Marshal(block)
		if err != nil {
			return fmt.Errorf("failed to marshal corrupted block: %w", err)
		}
		if err := bucket.Put(key, corrupted); err != nil {
			return fmt.Errorf("failed to save corrupted block: %w", err)
		}

		fmt.Printf("Corrupted block %d distance to %s\n", block.Index, block.Distance)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("BoltDB tampering completed")
}
