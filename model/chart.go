package model

import "fmt"

// Supported asset extensions. Anything else is rejected before a byte is
// written to disk.
var (
	ValidAudioExts = []string{"mp3", "wav", "aac", "ogg", "webm"}
	ValidImgExts   = []string{"png", "jpg", "jpeg", "bmp", "webp", "avif"}
)

// IsValidAudioExt reports whether ext is a supported audio extension.
func IsValidAudioExt(ext string) bool {
	for _, e := range ValidAudioExts {
		if e == ext {
			return true
		}
	}
	return false
}

// IsValidImgExt reports whether ext is a supported image extension.
func IsValidImgExt(ext string) bool {
	for _, e := range ValidImgExts {
		if e == ext {
			return true
		}
	}
	return false
}

// Chart is a stored chart row. Optional fields are nil when absent.
type Chart struct {
	ID          string
	Title       string
	Difficulty  float64
	BPM         float64
	FirstBeat   int64 // offset in ms
	PreviewTime int64 // offset in ms, start of the derived preview clip
	MeasureSize int64
	Snaps       int64
	AudioExt    string
	ImgExt      *string
	CreditAudio *string
	CreditImg   *string
	CreditChart *string
	OwnerHash   string // bcrypt hash of the ownership secret, never sent to clients
}

// ChartSummary is the listing view of a chart.
type ChartSummary struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Difficulty  float64 `json:"difficulty"`
	BPM         float64 `json:"bpm"`
	AudioExt    string  `json:"audio_ext"`
	ImgExt      *string `json:"img_ext"`
	CreditAudio *string `json:"credit_audio"`
	CreditImg   *string `json:"credit_img"`
	CreditChart *string `json:"credit_chart"`
}

// ChartMeta is the wire shape of chart metadata: the `metadata` field of an
// upload and the `metadata.json` entry of an exported archive. Required fields
// are pointers so that a missing field can be told apart from a zero value.
type ChartMeta struct {
	OnlineID    string   `json:"online_id,omitempty"`
	Title       *string  `json:"title"`
	Difficulty  *float64 `json:"difficulty"`
	BPM         *float64 `json:"bpm"`
	FirstBeat   *int64   `json:"first_beat"`
	PreviewTime *int64   `json:"preview_time"`
	MeasureSize *int64   `json:"measure_size"`
	Snaps       *int64   `json:"snaps"`
	AudioExt    *string  `json:"audio_ext"`
	ImgExt      *string  `json:"img_ext"`
	CreditAudio *string  `json:"credit_audio"`
	CreditImg   *string  `json:"credit_img"`
	CreditChart *string  `json:"credit_chart"`
}

// Validate checks that every required field is present and that the declared
// extensions are supported.
func (m *ChartMeta) Validate() error {
	switch {
	case m.Title == nil:
		return fmt.Errorf("missing required field: title")
	case m.Difficulty == nil:
		return fmt.Errorf("missing required field: difficulty")
	case m.BPM == nil:
		return fmt.Errorf("missing required field: bpm")
	case m.FirstBeat == nil:
		return fmt.Errorf("missing required field: first_beat")
	case m.PreviewTime == nil:
		return fmt.Errorf("missing required field: preview_time")
	case m.MeasureSize == nil:
		return fmt.Errorf("missing required field: measure_size")
	case m.Snaps == nil:
		return fmt.Errorf("missing required field: snaps")
	case m.AudioExt == nil:
		return fmt.Errorf("missing required field: audio_ext")
	}
	if !IsValidAudioExt(*m.AudioExt) {
		return fmt.Errorf("unsupported audio_ext: %q", *m.AudioExt)
	}
	if m.ImgExt != nil && !IsValidImgExt(*m.ImgExt) {
		return fmt.Errorf("unsupported img_ext: %q", *m.ImgExt)
	}
	return nil
}

// ToChart converts validated metadata into a Chart row. The id and owner hash
// are supplied by the caller; Validate must have passed.
func (m *ChartMeta) ToChart(id, ownerHash string) *Chart {
	return &Chart{
		ID:          id,
		Title:       *m.Title,
		Difficulty:  *m.Difficulty,
		BPM:         *m.BPM,
		FirstBeat:   *m.FirstBeat,
		PreviewTime: *m.PreviewTime,
		MeasureSize: *m.MeasureSize,
		Snaps:       *m.Snaps,
		AudioExt:    *m.AudioExt,
		ImgExt:      m.ImgExt,
		CreditAudio: m.CreditAudio,
		CreditImg:   m.CreditImg,
		CreditChart: m.CreditChart,
		OwnerHash:   ownerHash,
	}
}

// MetaFromChart builds the export view of a stored chart. The owner hash is
// deliberately not part of this view.
func MetaFromChart(c *Chart) *ChartMeta {
	return &ChartMeta{
		OnlineID:    c.ID,
		Title:       &c.Title,
		Difficulty:  &c.Difficulty,
		BPM:         &c.BPM,
		FirstBeat:   &c.FirstBeat,
		PreviewTime: &c.PreviewTime,
		MeasureSize: &c.MeasureSize,
		Snaps:       &c.Snaps,
		AudioExt:    &c.AudioExt,
		ImgExt:      c.ImgExt,
		CreditAudio: c.CreditAudio,
		CreditImg:   c.CreditImg,
		CreditChart: c.CreditChart,
	}
}
