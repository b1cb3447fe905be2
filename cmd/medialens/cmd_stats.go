package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/medialens/medialens/internal/config"
	"github.com/medialens/medialens/internal/scanner"
	"github.com/medialens/medialens/internal/store"
	"github.com/medialens/medialens/internal/textindex"
)

// handleStats implements the stats subcommand
func handleStats(cfg *config.Config, root string, args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    medialens stats

DESCRIPTION:
    Show index statistics for the media directory: stored vector count
    and dimension, fingerprinted file count and database location.
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Failed to parse arguments: %v", err)
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	vectors, err := store.NewVectorStore(db)
	if err != nil {
		log.Fatalf("Failed to open vector store: %v", err)
	}

	stats, err := vectors.GetStats()
	if err != nil {
		log.Fatalf("Failed to read store stats: %v", err)
	}

	sc, err := scanner.New(root, cfg.Scanner, nil)
	if err != nil {
		log.Fatalf("Failed to create scanner: %v", err)
	}

	fmt.Printf("Media root:      %s\n", root)
	fmt.Printf("Database:        %s\n", cfg.Database.Path)
	fmt.Printf("Vectors:         %d\n", stats.Count)
	fmt.Printf("Dimension:       %d\n", stats.Dimension)
	fmt.Printf("Indexed files:   %d\n", sc.IndexedCount())

	if names, err := textindex.Open(cfg.Database.TextIndexPath); err == nil {
		if count, err := names.Count(); err == nil {
			fmt.Printf("Name documents:  %d\n", count)
		}
		names.Close()
	}
}
