package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/medialens/medialens/internal/config"
	"github.com/medialens/medialens/internal/embedding"
	"github.com/medialens/medialens/internal/retrieval"
	"github.com/medialens/medialens/internal/runlog"
	"github.com/medialens/medialens/internal/store"
	"github.com/medialens/medialens/internal/textindex"
)

// handleSearch implements the search subcommand
func handleSearch(cfg *config.Config, root string, runLog *runlog.Logger, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	topK := fs.Int("k", cfg.Search.DefaultTopK, "Maximum number of results")
	minScore := fs.Float64("min-score", cfg.Search.MinScore, "Minimum similarity score (0-1)")
	kind := fs.String("kind", "", `Restrict results to "image" or "video"`)
	nameOnly := fs.Bool("name-only", false, "Match file names instead of meaning")
	asJSON := fs.Bool("json", false, "Print results as JSON")
	byImage := fs.String("image", "", "Search with a reference image instead of text")
	textWeight := fs.Float64("text-weight", 0.5, "Text share when combining text and -image (0-1)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    medialens search [options] <query>

DESCRIPTION:
    Find indexed photos and video moments by describing them in natural
    language. Video results point at the matching frame's timestamp.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    # Describe what you are looking for
    medialens search "dog catching a frisbee"

    # Videos only, top 5
    medialens search "concert crowd" -kind video -k 5

    # Match by file name
    medialens search "vacation_2023" -name-only

    # Search with a reference image
    medialens search -image ~/Desktop/reference.jpg

    # Combine a description with a reference image, favoring the text
    medialens search "same dog at the beach" -image ~/dog.jpg -text-weight 0.7
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Failed to parse arguments: %v", err)
	}

	query := ""
	if fs.NArg() > 0 {
		query = fs.Arg(0)
	}
	if query == "" && *byImage == "" {
		fmt.Fprintln(os.Stderr, "Error: search needs a query or -image")
		fs.Usage()
		os.Exit(1)
	}

	switch *kind {
	case "", "image", "video":
	default:
		log.Fatalf("Invalid -kind %q, expected image or video", *kind)
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

	var names *textindex.Index
	if idx, err := textindex.Open(cfg.Database.TextIndexPath); err == nil {
		names = idx
		defer names.Close()
	}

	service, err := embedding.NewService(&cfg.Embedding, runLog)
	if err != nil {
		log.Fatalf("Failed to create embedding service: %v", err)
	}

	engine := retrieval.New(vectors, service, names)
	ctx := context.Background()

	var results []store.SearchResult
	switch {
	case *nameOnly:
		results, err = engine.SearchByName(query, *topK)
	case *byImage != "" && query != "":
		results, err = engine.SearchMultimodal(ctx, query, *byImage, *textWeight, *topK, *kind, *minScore)
	case *byImage != "":
		results, err = engine.SearchByImage(ctx, *byImage, *topK, *kind, *minScore)
	default:
		results, err = engine.SearchByText(ctx, query, *topK, *kind, *minScore)
	}
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}

	printResults(results, *asJSON)
}

func printResults(results []store.SearchResult, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			log.Fatalf("Failed to encode results: %v", err)
		}
		return
	}

	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}

	for i, result := range results {
		fmt.Println(retrieval.FormatResult(i+1, result))
	}
}
