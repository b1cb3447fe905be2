package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/medialens/medialens/internal/config"
	"github.com/medialens/medialens/internal/retrieval"
	"github.com/medialens/medialens/internal/runlog"
	"github.com/medialens/medialens/internal/store"
)

// handleSimilar implements the similar subcommand
func handleSimilar(cfg *config.Config, root string, runLog *runlog.Logger, args []string) {
	fs := flag.NewFlagSet("similar", flag.ExitOnError)
	topK := fs.Int("k", cfg.Search.DefaultTopK, "Maximum number of results")
	asJSON := fs.Bool("json", false, "Print results as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    medialens similar [options] <item-id>

DESCRIPTION:
    Find indexed media most similar to an already-indexed item. The item
    id is the content hash printed by search -json; frame ids look like
    <hash>_f<frame>.

OPTIONS:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Failed to parse arguments: %v", err)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: similar needs an item id")
		fs.Usage()
		os.Exit(1)
	}
	id := fs.Arg(0)

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	vectors, err := store.NewVectorStore(db)
	if err != nil {
		log.Fatalf("Failed to open vector store: %v", err)
	}

	// item similarity needs neither the provider nor the filename index
	engine := retrieval.New(vectors, nil, nil)

	results, err := engine.SearchByItem(id, *topK)
	if err != nil {
		log.Fatalf("Similarity search failed: %v", err)
	}

	printResults(results, *asJSON)
}
