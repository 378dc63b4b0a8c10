package audio

// PreviewGenerator produces a short derived preview clip from a full audio
// track. Implementations shell out to an external tool; failure leaves the
// chart in a degraded-but-valid state.
type PreviewGenerator interface {
	// GeneratePreview cuts a clip from inputFile starting at offsetMs and
	// writes an mp3 to outputFile.
	GeneratePreview(inputFile string, offsetMs int64, outputFile string) error
}
