package audio

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
)

// FFmpegProcessor implements PreviewGenerator using ffmpeg. The tool is always
// invoked with an argument vector, never through a shell.
type FFmpegProcessor struct {
	ffmpegPath string
	seconds    int    // preview clip length
	bitrate    string // e.g., "128k"
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
func NewFFmpegProcessor(ffmpegPath string, seconds int, bitrate string) *FFmpegProcessor {
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, seconds: seconds, bitrate: bitrate}
}

// previewArgs builds the ffmpeg argument vector for a preview cut.
func (p *FFmpegProcessor) previewArgs(inputFile string, offsetMs int64, outputFile string) []string {
	return []string{
		"-ss", fmt.Sprintf("%.3f", float64(offsetMs)/1000.0),
		"-t", strconv.Itoa(p.seconds),
		"-i", inputFile,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", p.bitrate,
		"-y",
		outputFile,
	}
}

// GeneratePreview cuts an mp3 preview clip out of inputFile starting at
// offsetMs.
func (p *FFmpegProcessor) GeneratePreview(inputFile string, offsetMs int64, outputFile string) error {
	args := p.previewArgs(inputFile, offsetMs, outputFile)

	cmd := exec.Command(p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg execution failed for %s: %w\nFFmpeg Error: %s", inputFile, err, stderr.String())
	}
	return nil
}
