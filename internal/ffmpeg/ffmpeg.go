package ffmpeg

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// SegmentSeconds is the target HLS segment duration.
	SegmentSeconds = 2
	// WindowSegments is how many segments the live playlist retains.
	WindowSegments = 6
)

// Binary locates the encoder executable.
type Binary struct {
	Path string
}

// New returns a Binary for path, or "ffmpeg" from PATH when path is empty.
func New(path string) Binary {
	if path == "" {
		path = "ffmpeg"
	}
	return Binary{Path: path}
}

// Version checks that the binary runs and returns its first version line.
func (b Binary) Version(ctx context.Context) (string, error) {
	output, err := exec.CommandContext(ctx, b.Path, "-version").Output()
	if err != nil {
		return "", errors.Wrap(err, "ffmpeg not found")
	}

	line, _, _ := strings.Cut(string(output), "\n")
	if !strings.Contains(line, "version") {
		return "", errors.New("ffmpeg not properly installed")
	}
	return strings.TrimSpace(line), nil
}

// TranscodeOptions parameterise one camera's live transcode.
type TranscodeOptions struct {
	SourceURL    string
	Width        int
	Height       int
	FPS          int
	PlaylistPath string
}

// GOP is the keyframe interval for fps: two seconds of frames, at least one.
func GOP(fps int) int {
	return max(1, fps*2)
}

// TranscodeArgs builds the RTSP to rolling-HLS argument list. Video only,
// libx264 with a fixed keyframe cadence so segments cut on keyframes.
func TranscodeArgs(o TranscodeOptions) []string {
	gop := strconv.Itoa(GOP(o.FPS))
	return []string{
		"-rtsp_transport", "tcp",
		"-i", o.SourceURL,
		"-vf", "scale=" + strconv.Itoa(o.Width) + ":" + strconv.Itoa(o.Height),
		"-r", strconv.Itoa(o.FPS),
		"-an",
		"-c:v", "libx264",
		"-g", gop,
		"-keyint_min", gop,
		"-sc_threshold", "0",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-f", "hls",
		"-hls_time", strconv.Itoa(SegmentSeconds),
		"-hls_list_size", strconv.Itoa(WindowSegments),
		"-hls_flags", "delete_segments+append_list+independent_segments",
		o.PlaylistPath,
	}
}

// RecordOptions parameterise an archival stream-copy of a live playlist.
type RecordOptions struct {
	PlaylistPath string
	OutputPath   string
	// DurationSeconds bounds the input read; zero records until stopped.
	DurationSeconds int
}

// RecordArgs builds the HLS to single-file stream-copy argument list.
func RecordArgs(o RecordOptions) []string {
	args := []string{"-allowed_extensions", "ALL"}
	if o.DurationSeconds > 0 {
		args = append(args, "-t", strconv.Itoa(o.DurationSeconds))
	}
	return append(args,
		"-i", o.PlaylistPath,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-movflags", "+faststart",
		o.OutputPath,
	)
}
