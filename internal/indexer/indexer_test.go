package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/medialens/medialens/internal/config"
	"github.com/medialens/medialens/internal/embedding"
	"github.com/medialens/medialens/internal/retrieval"
	"github.com/medialens/medialens/internal/sampler"
	"github.com/medialens/medialens/internal/scanner"
	"github.com/medialens/medialens/internal/store"
)

// blockableClient embeds deterministic vectors, can hold an embedding
// call open to exercise the run lock, and records whether the provider
// ever saw two concurrent calls.
type blockableClient struct {
	dims     int
	started  chan struct{}  // closed on first EmbedImages call, may be nil
	release  chan struct{}  // EmbedImages waits on this when non-nil
	onEmbed  func(call int) // invoked at the start of each EmbedImages call
	offloads int

	mu         sync.Mutex
	calls      int
	inFlight   int
	overlapped bool
}

func (c *blockableClient) enter() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.inFlight++
	if c.inFlight > 1 {
		c.overlapped = true
	}
	return c.calls
}

func (c *blockableClient) exit() {
	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
}

func (c *blockableClient) EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error) {
	call := c.enter()
	defer c.exit()

	if c.onEmbed != nil {
		c.onEmbed(call)
	}
	if c.started != nil {
		select {
		case <-c.started:
		default:
			close(c.started)
		}
	}
	if c.release != nil {
		<-c.release
	}
	out := make([][]float32, len(images))
	for i, img := range images {
		v := make([]float32, c.dims)
		v[0] = float32(len(img)%7 + 1)
		v[1] = 1
		out[i] = v
	}
	return out, nil
}

func (c *blockableClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	c.enter()
	defer c.exit()

	v := make([]float32, c.dims)
	v[0] = 1
	return v, nil
}

func (c *blockableClient) Offload(ctx context.Context) error {
	c.offloads++
	return nil
}

func (c *blockableClient) Dimensions() int { return c.dims }

// stubDecoder synthesizes 2x2 frames; probeErr makes every video fail to
// open.
type stubDecoder struct {
	info     sampler.VideoInfo
	probeErr error
}

func (d *stubDecoder) Probe(ctx context.Context, path string) (sampler.VideoInfo, error) {
	if d.probeErr != nil {
		return sampler.VideoInfo{}, d.probeErr
	}
	return d.info, nil
}

func (d *stubDecoder) ReadFrame(ctx context.Context, path string, info sampler.VideoInfo, index int) (*sampler.Frame, error) {
	return &sampler.Frame{
		Pixels:    make([]byte, info.Width*info.Height*3),
		Width:     info.Width,
		Height:    info.Height,
		Timestamp: float64(index) / info.FPS,
		Index:     index,
	}, nil
}

type testEnv struct {
	root     string
	scanner  *scanner.Scanner
	db       *store.DB
	store    *store.VectorStore
	client   *blockableClient
	service  *embedding.Service
	pipeline *Pipeline
}

func newTestEnv(t *testing.T, decoder sampler.Decoder) *testEnv {
	t.Helper()

	root := t.TempDir()
	scannerCfg := config.ScannerConfig{
		VideoExtensions: []string{".mp4"},
		ImageExtensions: []string{".jpg"},
		IgnoreFile:      ".medialens_ignore",
	}

	sc, err := scanner.New(root, scannerCfg, nil)
	if err != nil {
		t.Fatalf("scanner.New() error = %v", err)
	}

	samplerCfg := config.SamplerConfig{
		Method:         "fixed_interval",
		TargetFPS:      1.0,
		SceneThreshold: 27.0,
		MinSceneLength: 15,
		MaxFrames:      30,
	}
	sp := sampler.New(decoder, nil, samplerCfg, nil)

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	vectors, err := store.NewVectorStore(db)
	if err != nil {
		t.Fatalf("NewVectorStore() error = %v", err)
	}

	client := &blockableClient{dims: 4}
	service := embedding.NewServiceWithClient(client, nil)

	return &testEnv{
		root:     root,
		scanner:  sc,
		db:       db,
		store:    vectors,
		client:   client,
		service:  service,
		pipeline: New(sc, sp, service, vectors, nil, nil),
	}
}

func (e *testEnv) addFile(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.root, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestRunIndexesImagesAndVideoFrames(t *testing.T) {
	decoder := &stubDecoder{info: sampler.VideoInfo{FPS: 10, FrameCount: 30, Width: 2, Height: 2}}
	env := newTestEnv(t, decoder)
	env.addFile(t, "one.jpg", "image one")
	env.addFile(t, "two.jpg", "image two")
	env.addFile(t, "clip.mp4", "video bytes")

	report, err := env.pipeline.Run(context.Background(), Options{Incremental: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Processed != 3 {
		t.Errorf("Processed = %d, want 3", report.Processed)
	}
	if report.Failed != 0 {
		t.Errorf("Failed = %d, want 0", report.Failed)
	}

	// 2 image records + frames 0, 10, 20 of the video
	count, err := env.store.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 5 {
		t.Errorf("store holds %d records, want 5", count)
	}

	// frame ids derive from the video's content hash
	scanResult, err := env.scanner.Scan(false)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	var videoHash string
	for _, item := range scanResult.Items {
		if item.Kind == scanner.KindVideo {
			videoHash = item.ContentHash
		}
	}
	for _, frameIndex := range []int{0, 10, 20} {
		id := fmt.Sprintf("%s_f%d", videoHash, frameIndex)
		ok, err := env.store.Has(id)
		if err != nil {
			t.Fatalf("Has(%s) error = %v", id, err)
		}
		if !ok {
			t.Errorf("frame record %s missing", id)
		}
		_, meta, err := env.store.GetByID(id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		wantTS := float64(frameIndex) / 10.0
		if meta.Timestamp != wantTS || meta.FrameIndex != frameIndex {
			t.Errorf("frame %d metadata = ts %v idx %d, want ts %v idx %d",
				frameIndex, meta.Timestamp, meta.FrameIndex, wantTS, frameIndex)
		}
	}

	if env.client.offloads != 1 {
		t.Errorf("provider offloaded %d times, want once per run", env.client.offloads)
	}
	if env.pipeline.State() != StateIdle {
		t.Errorf("pipeline state after run = %s, want idle", env.pipeline.State())
	}
}

func TestRunCommitsFingerprintsOnSuccess(t *testing.T) {
	decoder := &stubDecoder{info: sampler.VideoInfo{FPS: 10, FrameCount: 10, Width: 2, Height: 2}}
	env := newTestEnv(t, decoder)
	env.addFile(t, "one.jpg", "image one")
	env.addFile(t, "clip.mp4", "video bytes")

	if _, err := env.pipeline.Run(context.Background(), Options{Incremental: true}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// rerun finds nothing new
	report, err := env.pipeline.Run(context.Background(), Options{Incremental: true})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if report.Processed != 0 {
		t.Errorf("second run processed %d, want 0", report.Processed)
	}
	if report.Skipped != 2 {
		t.Errorf("second run skipped %d, want 2", report.Skipped)
	}
}

func TestRunSkipsUnreadableVideo(t *testing.T) {
	decoder := &stubDecoder{probeErr: errors.New("corrupt container")}
	env := newTestEnv(t, decoder)
	env.addFile(t, "good.jpg", "image")
	env.addFile(t, "broken.mp4", "video bytes")

	report, err := env.pipeline.Run(context.Background(), Options{Incremental: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Processed != 1 {
		t.Errorf("Processed = %d, want 1", report.Processed)
	}
	if report.Failed != 1 {
		t.Errorf("Failed = %d, want 1", report.Failed)
	}

	// the failed video stays uncommitted and is retried next run
	rescan, err := env.pipeline.Run(context.Background(), Options{Incremental: true})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if rescan.Failed != 1 {
		t.Errorf("second run failed = %d, want the broken video retried", rescan.Failed)
	}
	if rescan.Skipped != 1 {
		t.Errorf("second run skipped = %d, want 1 (the good image)", rescan.Skipped)
	}
}

func TestRunFailsFastOnDimensionMismatch(t *testing.T) {
	decoder := &stubDecoder{info: sampler.VideoInfo{FPS: 10, FrameCount: 10, Width: 2, Height: 2}}
	env := newTestEnv(t, decoder)
	env.addFile(t, "one.jpg", "image one")

	// lock the store to a different width than the provider's
	err := env.store.Upsert([]string{"legacy"}, [][]float32{{1, 0, 0}}, []store.Metadata{{FilePath: "/old.jpg", Kind: "image"}})
	if err != nil {
		t.Fatalf("seed Upsert() error = %v", err)
	}

	if _, err := env.pipeline.Run(context.Background(), Options{Incremental: true}); err == nil {
		t.Fatal("Run() succeeded against a mismatched store, want error")
	}

	if env.scanner.IndexedCount() != 0 {
		t.Errorf("fingerprints committed after failed run: %d", env.scanner.IndexedCount())
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	decoder := &stubDecoder{info: sampler.VideoInfo{FPS: 10, FrameCount: 10, Width: 2, Height: 2}}
	env := newTestEnv(t, decoder)
	env.addFile(t, "one.jpg", "image one")

	env.client.started = make(chan struct{})
	env.client.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := env.pipeline.Run(context.Background(), Options{Incremental: true})
		done <- err
	}()

	<-env.client.started

	if _, err := env.pipeline.Run(context.Background(), Options{Incremental: true}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("concurrent Run() error = %v, want ErrRunInProgress", err)
	}

	close(env.client.release)
	if err := <-done; err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
}

func TestQueryWaitsForActiveRun(t *testing.T) {
	decoder := &stubDecoder{info: sampler.VideoInfo{FPS: 10, FrameCount: 10, Width: 2, Height: 2}}
	env := newTestEnv(t, decoder)
	env.addFile(t, "one.jpg", "image one")

	env.client.started = make(chan struct{})
	env.client.release = make(chan struct{})

	runDone := make(chan error, 1)
	go func() {
		_, err := env.pipeline.Run(context.Background(), Options{Incremental: true})
		runDone <- err
	}()

	<-env.client.started

	// a search sharing the embedding service must not reach the provider
	// while the run holds it
	engine := retrieval.New(env.store, env.service, nil)
	queryDone := make(chan error, 1)
	go func() {
		_, err := engine.SearchByText(context.Background(), "query", 5, "", 0)
		queryDone <- err
	}()

	select {
	case <-queryDone:
		t.Fatal("search reached the provider while a run held it")
	case <-time.After(50 * time.Millisecond):
	}

	close(env.client.release)

	if err := <-runDone; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := <-queryDone; err != nil {
		t.Fatalf("SearchByText() error = %v", err)
	}

	env.client.mu.Lock()
	overlapped := env.client.overlapped
	env.client.mu.Unlock()
	if overlapped {
		t.Error("provider saw two concurrent calls")
	}
}

func TestStoreWriteFailureSuppressesCommit(t *testing.T) {
	decoder := &stubDecoder{info: sampler.VideoInfo{FPS: 10, FrameCount: 10, Width: 2, Height: 2}}
	env := newTestEnv(t, decoder)
	env.addFile(t, "one.jpg", "image one")
	env.addFile(t, "two.jpg", "image two")

	// first batch stores fine; the database dies before the second write
	env.client.onEmbed = func(call int) {
		if call == 2 {
			env.db.Close()
		}
	}

	_, err := env.pipeline.Run(context.Background(), Options{Incremental: true, BatchSize: 1})
	if err == nil {
		t.Fatal("Run() succeeded despite a failed store write")
	}

	// no hash from the run may be committed, including the batch that
	// reached the store
	if env.scanner.IndexedCount() != 0 {
		t.Errorf("fingerprint set holds %d hashes after a failed run, want 0", env.scanner.IndexedCount())
	}

	fresh, err := scanner.New(env.root, config.ScannerConfig{
		VideoExtensions: []string{".mp4"},
		ImageExtensions: []string{".jpg"},
		IgnoreFile:      ".medialens_ignore",
	}, nil)
	if err != nil {
		t.Fatalf("scanner.New() error = %v", err)
	}
	if fresh.IndexedCount() != 0 {
		t.Errorf("persisted fingerprint set holds %d hashes, want 0", fresh.IndexedCount())
	}
}

func TestRunAbortsAtBoundary(t *testing.T) {
	decoder := &stubDecoder{info: sampler.VideoInfo{FPS: 10, FrameCount: 10, Width: 2, Height: 2}}
	env := newTestEnv(t, decoder)
	env.addFile(t, "one.jpg", "image one")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.pipeline.Run(ctx, Options{Incremental: true}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() on canceled ctx error = %v, want context.Canceled", err)
	}

	if env.scanner.IndexedCount() != 0 {
		t.Errorf("fingerprints committed after aborted run: %d", env.scanner.IndexedCount())
	}
}
