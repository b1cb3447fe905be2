// Package sampler extracts bounded, ordered sets of representative frames
// from video files, preferring scene-change boundaries and falling back to
// a fixed interval.
package sampler

import (
	"context"
	"fmt"
	"math"

	"github.com/medialens/medialens/internal/config"
	"github.com/medialens/medialens/internal/runlog"
)

// Frame is one sampled video frame in RGB layout.
type Frame struct {
	Pixels    []byte // RGB24, Width*Height*3 bytes
	Width     int
	Height    int
	Timestamp float64 // seconds, Index / fps
	Index     int     // source frame index, ascending within a video
}

// VideoInfo describes a video stream.
type VideoInfo struct {
	FPS        float64
	FrameCount int
	Width      int
	Height     int
	Duration   float64 // seconds
}

// Scene is a half-open range of source frames with consistent content.
type Scene struct {
	Start int
	End   int
}

// Decoder is the frame decoding capability.
type Decoder interface {
	Probe(ctx context.Context, path string) (VideoInfo, error)
	ReadFrame(ctx context.Context, path string, info VideoInfo, index int) (*Frame, error)
}

// SceneDetector finds content-change boundaries in a video.
type SceneDetector interface {
	DetectScenes(ctx context.Context, path string, info VideoInfo, threshold float64, minSceneLen int) ([]Scene, error)
}

// OpenError reports a video that could not be opened or probed at all.
// Callers decide whether to skip the whole video.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("cannot open video %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Sampler produces representative frames for videos. If scene detection
// is configured but its detector is unavailable, the sampler permanently
// downgrades to fixed-interval for its lifetime.
type Sampler struct {
	decoder   Decoder
	detector  SceneDetector
	method    string
	targetFPS float64
	threshold float64
	minScene  int
	log       *runlog.Logger
}

// New creates a sampler. detector may be nil; scene_detect then downgrades
// to fixed_interval once, logged here rather than per call.
func New(decoder Decoder, detector SceneDetector, cfg config.SamplerConfig, log *runlog.Logger) *Sampler {
	method := cfg.Method
	if method == "scene_detect" && detector == nil {
		log.Warn("scene detector unavailable, downgrading to fixed_interval", map[string]interface{}{
			"configured": cfg.Method,
		})
		method = "fixed_interval"
	}

	return &Sampler{
		decoder:   decoder,
		detector:  detector,
		method:    method,
		targetFPS: cfg.TargetFPS,
		threshold: cfg.SceneThreshold,
		minScene:  cfg.MinSceneLength,
		log:       log,
	}
}

// Method returns the effective sampling method after any downgrade.
func (s *Sampler) Method() string {
	return s.method
}

// Info probes a video's stream properties.
func (s *Sampler) Info(ctx context.Context, path string) (VideoInfo, error) {
	info, err := s.decoder.Probe(ctx, path)
	if err != nil {
		return VideoInfo{}, &OpenError{Path: path, Err: err}
	}
	return info, nil
}

// Sample extracts up to maxFrames frames from the video, ordered by source
// frame index. A video that cannot be opened returns an OpenError; decode
// failures mid-stream end the extraction and return what was collected.
func (s *Sampler) Sample(ctx context.Context, path string, maxFrames int) ([]Frame, error) {
	info, err := s.Info(ctx, path)
	if err != nil {
		return nil, err
	}
	if info.FPS <= 0 {
		return nil, &OpenError{Path: path, Err: fmt.Errorf("invalid fps %g", info.FPS)}
	}

	if s.method == "scene_detect" {
		frames, ok := s.sampleScenes(ctx, path, info, maxFrames)
		if ok {
			return frames, nil
		}
		// zero scenes or detection failure: fixed interval for this video only
	}

	return s.sampleFixedInterval(ctx, path, info, maxFrames), nil
}

// sampleScenes extracts one frame at the start of each detected scene, in
// scene order. Returns ok=false when detection yields nothing usable.
func (s *Sampler) sampleScenes(ctx context.Context, path string, info VideoInfo, maxFrames int) ([]Frame, bool) {
	scenes, err := s.detector.DetectScenes(ctx, path, info, s.threshold, s.minScene)
	if err != nil {
		s.log.Warn("scene detection failed, using fixed interval for this video", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return nil, false
	}
	if len(scenes) == 0 {
		s.log.Info("no scenes detected, using fixed interval for this video", map[string]interface{}{
			"path": path,
		})
		return nil, false
	}

	frames := make([]Frame, 0, min(len(scenes), maxFrames))
	for _, scene := range scenes {
		if len(frames) >= maxFrames {
			break
		}

		frame, err := s.decoder.ReadFrame(ctx, path, info, scene.Start)
		if err != nil {
			s.log.Warn("frame decode failed mid-stream, keeping collected frames", map[string]interface{}{
				"path":  path,
				"frame": scene.Start,
				"error": err.Error(),
			})
			break
		}
		frames = append(frames, *frame)
	}

	return frames, true
}

// sampleFixedInterval emits every frame whose index is a multiple of
// round(videoFps / targetFps), ascending, up to maxFrames.
func (s *Sampler) sampleFixedInterval(ctx context.Context, path string, info VideoInfo, maxFrames int) []Frame {
	interval := int(math.Round(info.FPS / s.targetFPS))
	if interval < 1 {
		interval = 1
	}

	var frames []Frame
	for index := 0; index < info.FrameCount; index += interval {
		if len(frames) >= maxFrames {
			break
		}

		frame, err := s.decoder.ReadFrame(ctx, path, info, index)
		if err != nil {
			s.log.Warn("frame decode failed mid-stream, keeping collected frames", map[string]interface{}{
				"path":  path,
				"frame": index,
				"error": err.Error(),
			})
			break
		}
		frames = append(frames, *frame)
	}

	return frames
}
