package sampler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegDecoder decodes video frames by shelling out to ffmpeg/ffprobe.
type FFmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegDecoder locates ffmpeg and ffprobe on PATH.
func NewFFmpegDecoder() (*FFmpegDecoder, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found on PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found on PATH: %w", err)
	}
	return &FFmpegDecoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}, nil
}

// ffprobeOutput mirrors the subset of ffprobe's JSON output we read.
type ffprobeOutput struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"` // "30000/1001"
		NbFrames   string `json:"nb_frames"`    // may be absent or "N/A"
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects the first video stream of the file.
func (d *FFmpegDecoder) Probe(ctx context.Context, path string) (VideoInfo, error) {
	cmd := exec.CommandContext(ctx, d.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames,duration",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &probe); err != nil {
		return VideoInfo{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("no video stream in %s", path)
	}

	stream := probe.Streams[0]

	fps, err := parseFrameRate(stream.RFrameRate)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("failed to parse frame rate: %w", err)
	}

	duration, _ := strconv.ParseFloat(stream.Duration, 64)
	if duration == 0 {
		duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	}

	frameCount, _ := strconv.Atoi(stream.NbFrames)
	if frameCount == 0 && duration > 0 {
		// container does not record a frame count, estimate from duration
		frameCount = int(duration * fps)
	}
	if frameCount == 0 {
		return VideoInfo{}, fmt.Errorf("cannot determine frame count for %s", path)
	}

	return VideoInfo{
		FPS:        fps,
		FrameCount: frameCount,
		Width:      stream.Width,
		Height:     stream.Height,
		Duration:   duration,
	}, nil
}

// parseFrameRate converts ffprobe's rational "num/den" form.
func parseFrameRate(rate string) (float64, error) {
	num, den, found := strings.Cut(rate, "/")
	if !found {
		return strconv.ParseFloat(rate, 64)
	}

	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, fmt.Errorf("zero denominator in frame rate %q", rate)
	}
	return n / d, nil
}

// ReadFrame seeks to the frame's timestamp and decodes a single raw RGB
// frame to stdout.
func (d *FFmpegDecoder) ReadFrame(ctx context.Context, path string, info VideoInfo, index int) (*Frame, error) {
	timestamp := float64(index) / info.FPS

	cmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-v", "error",
		"-ss", strconv.FormatFloat(timestamp, 'f', 6, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame decode failed at %d: %w: %s", index, err, strings.TrimSpace(stderr.String()))
	}

	want := info.Width * info.Height * 3
	pixels := stdout.Bytes()
	if len(pixels) != want {
		return nil, fmt.Errorf("frame %d: got %d bytes, expected %d", index, len(pixels), want)
	}

	return &Frame{
		Pixels:    pixels,
		Width:     info.Width,
		Height:    info.Height,
		Timestamp: timestamp,
		Index:     index,
	}, nil
}

// FFmpegSceneDetector finds scene changes with ffmpeg's scene filter.
type FFmpegSceneDetector struct {
	ffmpegPath string
}

// NewFFmpegSceneDetector locates ffmpeg on PATH. Callers treat an error
// as the detector capability being unavailable.
func NewFFmpegSceneDetector() (*FFmpegSceneDetector, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found on PATH: %w", err)
	}
	return &FFmpegSceneDetector{ffmpegPath: ffmpegPath}, nil
}

// DetectScenes runs the scene-change filter and turns the detected change
// points into scene ranges. threshold uses the 0-100 scale of the config;
// ffmpeg's filter wants 0-1. Change points closer than minSceneLen frames
// to the previous scene start are merged into it.
func (d *FFmpegSceneDetector) DetectScenes(ctx context.Context, path string, info VideoInfo, threshold float64, minSceneLen int) ([]Scene, error) {
	filter := fmt.Sprintf("select='gt(scene,%g)',metadata=print", threshold/100.0)

	cmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-i", path,
		"-vf", filter,
		"-an",
		"-f", "null",
		"-",
	)

	// metadata=print writes to stderr with the rest of ffmpeg's chatter
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg scene detection failed: %w", err)
	}

	changes := parseSceneChanges(&stderr, info.FPS)

	starts := []int{0}
	for _, change := range changes {
		if change-starts[len(starts)-1] < minSceneLen {
			continue
		}
		starts = append(starts, change)
	}

	scenes := make([]Scene, 0, len(starts))
	for i, start := range starts {
		end := info.FrameCount
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if end <= start {
			continue
		}
		scenes = append(scenes, Scene{Start: start, End: end})
	}

	return scenes, nil
}

// parseSceneChanges extracts frame indexes from metadata=print lines like
// "frame:12 pts:6150 pts_time:6.15".
func parseSceneChanges(output *bytes.Buffer, fps float64) []int {
	var changes []int

	scan := bufio.NewScanner(output)
	for scan.Scan() {
		line := scan.Text()
		idx := strings.Index(line, "pts_time:")
		if idx < 0 {
			continue
		}

		field := line[idx+len("pts_time:"):]
		if cut := strings.IndexByte(field, ' '); cut >= 0 {
			field = field[:cut]
		}
		ptsTime, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			continue
		}

		changes = append(changes, int(math.Round(ptsTime*fps)))
	}

	return changes
}
