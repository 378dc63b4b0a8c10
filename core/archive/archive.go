package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/troylu8/chuuni-keys-server/model"
)

// ErrMalformed indicates an archive that cannot be parsed as a chart bundle.
var ErrMalformed = errors.New("malformed archive")

// Conventional entry names inside a chart bundle.
const (
	MetadataEntry = "metadata.json"
	ChartEntry    = "chart.txt"
)

// Bundle is the unpacked content of a chart archive.
type Bundle struct {
	Meta  *model.ChartMeta
	Chart []byte
	Audio []byte
	Img   []byte // nil when the metadata declares no image
}

// Unpack parses a chart bundle. The metadata entry must be present and valid
// JSON, and every asset entry named by the metadata's declared extensions must
// exist. maxEntryBytes caps the decompressed size of each entry; a small
// compressed body can otherwise expand to a huge allocation, so the cap on
// the request body alone is not enough.
func Unpack(data []byte, maxEntryBytes int64) (*Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	rawMeta, err := readEntry(zr, MetadataEntry, maxEntryBytes)
	if err != nil {
		return nil, err
	}
	meta := &model.ChartMeta{}
	if err := json.Unmarshal(rawMeta, meta); err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %v", ErrMalformed, MetadataEntry, err)
	}
	if meta.AudioExt == nil {
		return nil, fmt.Errorf("%w: metadata missing audio_ext", ErrMalformed)
	}

	bundle := &Bundle{Meta: meta}
	if bundle.Chart, err = readEntry(zr, ChartEntry, maxEntryBytes); err != nil {
		return nil, err
	}
	if bundle.Audio, err = readEntry(zr, "audio."+*meta.AudioExt, maxEntryBytes); err != nil {
		return nil, err
	}
	if meta.ImgExt != nil {
		if bundle.Img, err = readEntry(zr, "img."+*meta.ImgExt, maxEntryBytes); err != nil {
			return nil, err
		}
	}
	return bundle, nil
}

func readEntry(zr *zip.Reader, name string, maxEntryBytes int64) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: missing entry %s", ErrMalformed, name)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxEntryBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading entry %s: %v", ErrMalformed, name, err)
	}
	if int64(len(data)) > maxEntryBytes {
		return nil, fmt.Errorf("%w: entry %s exceeds %d bytes", ErrMalformed, name, maxEntryBytes)
	}
	return data, nil
}

// Pack produces a chart bundle. Entry order is deterministic: metadata, chart,
// audio, image. img may be nil when meta declares no image.
func Pack(meta *model.ChartMeta, chart, audio, img io.Reader) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)

	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writeEntry(zw, MetadataEntry, bytes.NewReader(rawMeta)); err != nil {
		return nil, err
	}
	if err := writeEntry(zw, ChartEntry, chart); err != nil {
		return nil, err
	}
	if err := writeEntry(zw, "audio."+*meta.AudioExt, audio); err != nil {
		return nil, err
	}
	if meta.ImgExt != nil && img != nil {
		if err := writeEntry(zw, "img."+*meta.ImgExt, img); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, r io.Reader) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("failed to write entry %s: %w", name, err)
	}
	return nil
}
