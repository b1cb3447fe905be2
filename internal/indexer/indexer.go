// Package indexer drives the indexing pipeline: scan, embed, store,
// commit. At most one run may hold the embedding provider at a time.
package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/medialens/medialens/internal/embedding"
	"github.com/medialens/medialens/internal/runlog"
	"github.com/medialens/medialens/internal/sampler"
	"github.com/medialens/medialens/internal/scanner"
	"github.com/medialens/medialens/internal/store"
	"github.com/medialens/medialens/internal/textindex"
)

// State is the pipeline's current phase.
type State string

const (
	StateIdle             State = "idle"
	StateScanning         State = "scanning"
	StateEncodingImages   State = "encoding_images"
	StateExtractingFrames State = "extracting_frames"
	StateEncodingFrames   State = "encoding_frames"
	StateCommitting       State = "committing"
)

// ErrRunInProgress is returned when a run is requested while another run
// holds the pipeline.
var ErrRunInProgress = errors.New("an indexing run is already in progress")

// Report summarizes one indexing run.
type Report struct {
	Processed int // media files embedded and stored
	Skipped   int // already-indexed files excluded by the fingerprint set
	Failed    int // files skipped after errors
	Duration  time.Duration
}

// Options control a single run.
type Options struct {
	Incremental bool
	BatchSize   int // images per provider call
	MaxFrames   int // per video
	Progress    ProgressReporter
}

// Pipeline wires the scanner, sampler, embedding service and stores into
// one sequential indexing run.
type Pipeline struct {
	scanner *scanner.Scanner
	sampler *sampler.Sampler
	service *embedding.Service
	store   *store.VectorStore
	names   *textindex.Index // optional
	log     *runlog.Logger

	runMu sync.Mutex // held for the whole run, TryLock on entry

	mu    sync.Mutex
	state State
}

// New assembles a pipeline. names may be nil to skip filename indexing.
func New(sc *scanner.Scanner, sp *sampler.Sampler, service *embedding.Service, vectors *store.VectorStore, names *textindex.Index, log *runlog.Logger) *Pipeline {
	return &Pipeline{
		scanner: sc,
		sampler: sp,
		service: service,
		store:   vectors,
		names:   names,
		log:     log,
		state:   StateIdle,
	}
}

// State returns the pipeline's current phase.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run executes one indexing pass. A second concurrent call returns
// ErrRunInProgress immediately. Fingerprints are committed only after
// every store write for the run succeeded; a store write failure aborts
// the run with nothing committed. ctx aborts are honored at video and
// batch boundaries.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Report, error) {
	if !p.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.runMu.Unlock()

	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = 30
	}

	start := time.Now()
	defer p.setState(StateIdle)

	if err := p.checkDimensions(); err != nil {
		return nil, err
	}

	p.setState(StateScanning)
	scanResult, err := p.scanner.Scan(opts.Incremental)
	if err != nil {
		return nil, err
	}

	p.log.Info("scan complete", map[string]interface{}{
		"found":   len(scanResult.Items),
		"skipped": scanResult.SkippedIndexed,
	})

	var images, videos []scanner.MediaItem
	for _, item := range scanResult.Items {
		if item.Kind == scanner.KindVideo {
			videos = append(videos, item)
		} else {
			images = append(images, item)
		}
	}

	report := &Report{Skipped: scanResult.SkippedIndexed}
	var committed []scanner.MediaItem

	done, err := p.indexImages(ctx, images, opts, report)
	if err != nil {
		return nil, err
	}
	committed = append(committed, done...)

	done, err = p.indexVideos(ctx, videos, opts, report)
	if err != nil {
		return nil, err
	}
	committed = append(committed, done...)

	p.setState(StateCommitting)
	if len(committed) > 0 {
		if err := p.scanner.Commit(committed); err != nil {
			return nil, fmt.Errorf("failed to commit fingerprints: %w", err)
		}
	}

	p.offload(ctx)

	report.Duration = time.Since(start)
	p.log.Info("run complete", map[string]interface{}{
		"processed": report.Processed,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
		"duration":  report.Duration.String(),
	})
	return report, nil
}

// checkDimensions fails fast when the store was built by a provider of a
// different vector width. A fresh store locks to this provider on its
// first upsert.
func (p *Pipeline) checkDimensions() error {
	locked := p.store.Dimension()
	if locked != 0 && locked != p.service.Dimensions() {
		return fmt.Errorf("store holds %d-dimensional vectors but provider produces %d; use a separate database or re-index from scratch",
			locked, p.service.Dimensions())
	}
	return nil
}

// indexImages embeds still images in batches and stores each batch. A
// provider or store failure aborts the whole run; unreadable images get
// zero vectors from the service and stay in the commit set.
func (p *Pipeline) indexImages(ctx context.Context, images []scanner.MediaItem, opts Options, report *Report) ([]scanner.MediaItem, error) {
	if len(images) == 0 {
		return nil, nil
	}

	p.setState(StateEncodingImages)
	if opts.Progress != nil {
		opts.Progress.Start("encoding images", len(images))
		defer opts.Progress.Finish()
	}

	var committed []scanner.MediaItem
	for batchStart := 0; batchStart < len(images); batchStart += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batchEnd := batchStart + opts.BatchSize
		if batchEnd > len(images) {
			batchEnd = len(images)
		}
		batch := images[batchStart:batchEnd]

		paths := make([]string, len(batch))
		for i, item := range batch {
			paths[i] = item.Path
		}

		vectors, err := p.service.EncodeImages(ctx, paths, opts.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to encode images: %w", err)
		}

		ids := make([]string, len(batch))
		metadatas := make([]store.Metadata, len(batch))
		for i, item := range batch {
			ids[i] = item.ContentHash
			metadatas[i] = store.Metadata{
				FilePath:     item.Path,
				Kind:         string(scanner.KindImage),
				SizeBytes:    item.SizeBytes,
				ModifiedTime: item.ModTime.Unix(),
			}
		}

		if err := p.store.Upsert(ids, vectors, metadatas); err != nil {
			return nil, fmt.Errorf("failed to store image vectors: %w", err)
		}

		for i, item := range batch {
			p.indexName(ids[i], item)
			if opts.Progress != nil {
				opts.Progress.Increment()
			}
		}

		committed = append(committed, batch...)
		report.Processed += len(batch)
	}

	return committed, nil
}

// indexVideos processes videos one at a time. A video that cannot be
// opened or yields no frames is skipped and logged; provider and store
// failures abort the run.
func (p *Pipeline) indexVideos(ctx context.Context, videos []scanner.MediaItem, opts Options, report *Report) ([]scanner.MediaItem, error) {
	if len(videos) == 0 {
		return nil, nil
	}

	if opts.Progress != nil {
		opts.Progress.Start("indexing videos", len(videos))
		defer opts.Progress.Finish()
	}

	var committed []scanner.MediaItem
	for _, video := range videos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ok, err := p.indexVideo(ctx, video, opts)
		if err != nil {
			return nil, err
		}
		if ok {
			committed = append(committed, video)
			report.Processed++
		} else {
			report.Failed++
		}

		if opts.Progress != nil {
			opts.Progress.Increment()
		}
	}

	return committed, nil
}

// indexVideo samples, embeds and stores one video's frames. Returns
// (false, nil) when the video is skipped; a non-nil error aborts the run.
func (p *Pipeline) indexVideo(ctx context.Context, video scanner.MediaItem, opts Options) (bool, error) {
	p.setState(StateExtractingFrames)

	frames, err := p.sampler.Sample(ctx, video.Path, opts.MaxFrames)
	if err != nil {
		p.log.Warn("video skipped", map[string]interface{}{
			"path":  video.Path,
			"error": err.Error(),
		})
		return false, nil
	}
	if len(frames) == 0 {
		p.log.Warn("video skipped, no frames extracted", map[string]interface{}{
			"path": video.Path,
		})
		return false, nil
	}

	framesDir, err := os.MkdirTemp("", "medialens-frames-*")
	if err != nil {
		return false, fmt.Errorf("failed to create frame buffer dir: %w", err)
	}
	defer os.RemoveAll(framesDir)

	framePaths := make([]string, len(frames))
	for i, frame := range frames {
		path := filepath.Join(framesDir, fmt.Sprintf("f%06d.png", frame.Index))
		if err := writeFramePNG(path, frame); err != nil {
			return false, fmt.Errorf("failed to buffer frame %d: %w", frame.Index, err)
		}
		framePaths[i] = path
	}

	p.setState(StateEncodingFrames)
	vectors, err := p.service.EncodeImages(ctx, framePaths, opts.BatchSize)
	if err != nil {
		return false, fmt.Errorf("failed to encode frames of %s: %w", video.Path, err)
	}

	ids := make([]string, len(frames))
	metadatas := make([]store.Metadata, len(frames))
	for i, frame := range frames {
		ids[i] = fmt.Sprintf("%s_f%d", video.ContentHash, frame.Index)
		metadatas[i] = store.Metadata{
			FilePath:     video.Path,
			Kind:         string(scanner.KindVideo),
			SizeBytes:    video.SizeBytes,
			ModifiedTime: video.ModTime.Unix(),
			Timestamp:    frame.Timestamp,
			FrameIndex:   frame.Index,
		}
	}

	if err := p.store.Upsert(ids, vectors, metadatas); err != nil {
		return false, fmt.Errorf("failed to store frame vectors: %w", err)
	}

	for i := range ids {
		p.indexName(ids[i], video)
	}

	return true, nil
}

// indexName updates the filename index, logging failures rather than
// aborting the run.
func (p *Pipeline) indexName(id string, item scanner.MediaItem) {
	if p.names == nil {
		return
	}

	base := filepath.Base(item.Path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	err := p.names.IndexDoc(id, textindex.NameDoc{
		Name: name,
		Path: item.Path,
		Kind: string(item.Kind),
	})
	if err != nil {
		p.log.Warn("filename index update failed", map[string]interface{}{
			"id":    id,
			"error": err.Error(),
		})
	}
}

// offload releases the provider once per run. A canceled ctx still gets
// a short window so accelerators are not left loaded.
func (p *Pipeline) offload(ctx context.Context) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := p.service.Offload(ctx); err != nil {
		p.log.Warn("provider offload failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// writeFramePNG encodes a raw RGB frame as a PNG file for the provider.
func writeFramePNG(path string, frame sampler.Frame) error {
	if len(frame.Pixels) != frame.Width*frame.Height*3 {
		return fmt.Errorf("frame buffer is %d bytes, expected %d", len(frame.Pixels), frame.Width*frame.Height*3)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			src := (y*frame.Width + x) * 3
			dst := y*img.Stride + x*4
			img.Pix[dst] = frame.Pixels[src]
			img.Pix[dst+1] = frame.Pixels[src+1]
			img.Pix[dst+2] = frame.Pixels[src+2]
			img.Pix[dst+3] = 0xff
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
