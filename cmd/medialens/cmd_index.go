package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medialens/medialens/internal/config"
	"github.com/medialens/medialens/internal/embedding"
	"github.com/medialens/medialens/internal/indexer"
	"github.com/medialens/medialens/internal/runlog"
	"github.com/medialens/medialens/internal/sampler"
	"github.com/medialens/medialens/internal/scanner"
	"github.com/medialens/medialens/internal/store"
	"github.com/medialens/medialens/internal/textindex"
)

// handleIndex implements the index subcommand
func handleIndex(cfg *config.Config, root string, runLog *runlog.Logger, args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	full := fs.Bool("full", false, "Re-process every file, ignoring the fingerprint set")
	reset := fs.Bool("reset", false, "Drop all stored vectors and fingerprints before indexing")
	batchSize := fs.Int("batch-size", cfg.Embedding.BatchSize, "Images per embedding request")
	maxFrames := fs.Int("max-frames", cfg.Sampler.MaxFrames, "Frame cap per video")
	verbose := fs.Bool("v", false, "Verbose output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    medialens index [options]

DESCRIPTION:
    Scan the media directory and index new photos and videos.
    This will:
      1. Walk the directory for media files
      2. Fingerprint each file and skip already-indexed content
      3. Sample representative frames from videos
      4. Generate embeddings for images and frames
      5. Store vectors for semantic search

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    # Incremental index of the current directory
    medialens index

    # Re-index everything from scratch
    medialens index -full

    # Wipe the index and rebuild it, e.g. after switching embedding models
    medialens index -reset

    # Smaller embedding batches for a constrained server
    medialens index -batch-size 8
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Failed to parse arguments: %v", err)
	}

	if *verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	fmt.Printf("Indexing media in: %s\n\n", root)

	sc, err := scanner.New(root, cfg.Scanner, runLog)
	if err != nil {
		log.Fatalf("Failed to create scanner: %v", err)
	}
	if err := sc.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	service, err := embedding.NewService(&cfg.Embedding, runLog)
	if err != nil {
		log.Fatalf("Failed to create embedding service: %v", err)
	}

	decoder, err := sampler.NewFFmpegDecoder()
	if err != nil {
		log.Fatalf("Failed to set up frame decoder: %v", err)
	}
	var detector sampler.SceneDetector
	if d, err := sampler.NewFFmpegSceneDetector(); err == nil {
		detector = d
	}
	sp := sampler.New(decoder, detector, cfg.Sampler, runLog)

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	vectors, err := store.NewVectorStore(db)
	if err != nil {
		log.Fatalf("Failed to open vector store: %v", err)
	}

	if *reset {
		fmt.Println("Resetting index: dropping stored vectors and fingerprints")
		if err := vectors.Clear(); err != nil {
			log.Fatalf("Failed to clear vector store: %v", err)
		}
		if err := sc.Reset(); err != nil {
			log.Fatalf("Failed to reset fingerprint set: %v", err)
		}
		if err := os.RemoveAll(cfg.Database.TextIndexPath); err != nil {
			log.Fatalf("Failed to remove filename index: %v", err)
		}
	}

	names, err := textindex.Open(cfg.Database.TextIndexPath)
	if err != nil {
		log.Fatalf("Failed to open filename index: %v", err)
	}
	defer names.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := indexer.New(sc, sp, service, vectors, names, runLog)

	startTime := time.Now()
	report, err := pipeline.Run(ctx, indexer.Options{
		Incremental: !*full,
		BatchSize:   *batchSize,
		MaxFrames:   *maxFrames,
		Progress:    indexer.NewProgress(indexer.DefaultProgressEnabled()),
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Fatalf("Indexing aborted: %v", err)
		}
		log.Fatalf("Indexing failed: %v", err)
	}

	stats, err := vectors.GetStats()
	if err != nil {
		log.Fatalf("Failed to read store stats: %v", err)
	}

	fmt.Printf("Done in %s\n", time.Since(startTime).Round(time.Millisecond))
	fmt.Printf("  processed: %d\n", report.Processed)
	fmt.Printf("  skipped:   %d (already indexed)\n", report.Skipped)
	fmt.Printf("  failed:    %d\n", report.Failed)
	fmt.Printf("  stored:    %d vectors (%d dimensions)\n", stats.Count, stats.Dimension)
	if runLog.Path() != "" {
		fmt.Printf("  run log:   %s\n", runLog.Path())
	}
}
