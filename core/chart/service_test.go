package chart

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/troylu8/chuuni-keys-server/core/archive"
	"github.com/troylu8/chuuni-keys-server/db"
	"github.com/troylu8/chuuni-keys-server/model"
	"github.com/troylu8/chuuni-keys-server/repository"
	"github.com/troylu8/chuuni-keys-server/storage"
)

func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }
func i64Ptr(i int64) *int64     { return &i }

type previewCall struct {
	input  string
	offset int64
	output string
}

type stubPreview struct {
	calls chan previewCall
	err   error // returned from every call when set
}

func newStubPreview() *stubPreview {
	return &stubPreview{calls: make(chan previewCall, 16)}
}

func (s *stubPreview) GeneratePreview(input string, offsetMs int64, output string) error {
	s.calls <- previewCall{input: input, offset: offsetMs, output: output}
	return s.err
}

func (s *stubPreview) wait(t *testing.T) previewCall {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for preview generation")
		return previewCall{}
	}
}

type testEnv struct {
	service *Service
	repo    repository.ChartRepository
	assets  *storage.AssetStore
	preview *stubPreview
	root    string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	conn, err := db.Connect(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.InitSchema(conn); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	root := filepath.Join(dir, "charts")
	repo := repository.NewSQLiteChartRepository(conn)
	assets := storage.NewAssetStore(root)
	preview := newStubPreview()

	return &testEnv{
		service: NewService(repo, assets, preview),
		repo:    repo,
		assets:  assets,
		preview: preview,
		root:    root,
	}
}

// validMeta returns the §-style reference metadata: a bare chart with no
// image and no credits.
func validMeta() *model.ChartMeta {
	return &model.ChartMeta{
		Title:       strPtr("X"),
		Difficulty:  f64Ptr(5),
		BPM:         f64Ptr(180),
		FirstBeat:   i64Ptr(0),
		PreviewTime: i64Ptr(15000),
		MeasureSize: i64Ptr(4),
		Snaps:       i64Ptr(16),
		AudioExt:    strPtr("mp3"),
	}
}

func basicAssets() Assets {
	return Assets{
		Chart: strings.NewReader("abc"),
		Audio: strings.NewReader("xyz"),
	}
}

func TestCreateBasicChart(t *testing.T) {
	env := setupTestEnv(t)

	id, secret, err := env.service.Create(validMeta(), basicAssets())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if len(id) != IDLength {
		t.Errorf("id %q has length %d, want %d", id, len(id), IDLength)
	}
	if secret == "" {
		t.Error("Create should return a non-empty secret")
	}

	row, err := env.repo.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if row.Title != "X" || row.Difficulty != 5 || row.BPM != 180 {
		t.Errorf("row = %+v, want title X, difficulty 5, bpm 180", row)
	}
	if row.FirstBeat != 0 || row.PreviewTime != 15000 || row.MeasureSize != 4 || row.Snaps != 16 {
		t.Errorf("row offsets/grid = %+v", row)
	}
	if row.AudioExt != "mp3" || row.ImgExt != nil {
		t.Errorf("exts = (%v, %v), want (mp3, nil)", row.AudioExt, row.ImgExt)
	}
	if row.OwnerHash == secret || row.OwnerHash == "" {
		t.Error("stored owner hash must be a hash, not the raw secret")
	}

	for _, name := range []string{"chart.txt", "audio.mp3"} {
		if _, err := os.Stat(filepath.Join(env.root, id, name)); err != nil {
			t.Errorf("expected asset %s: %v", name, err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(env.root, id))
	if err != nil {
		t.Fatalf("reading chart dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "img.") {
			t.Errorf("unexpected image file %s", e.Name())
		}
	}
}

func TestCreateSpawnsPreview(t *testing.T) {
	env := setupTestEnv(t)

	id, _, err := env.service.Create(validMeta(), basicAssets())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	call := env.preview.wait(t)
	if call.input != env.assets.AssetPath(id, storage.KindAudio, "mp3") {
		t.Errorf("preview input = %q", call.input)
	}
	if call.offset != 15000 {
		t.Errorf("preview offset = %d, want 15000", call.offset)
	}
	if call.output != env.assets.AssetPath(id, storage.KindPreview, "mp3") {
		t.Errorf("preview output = %q", call.output)
	}
}

// A broken transcoder degrades the chart (no preview) but never fails the
// request or damages the stored record.
func TestPreviewFailureDoesNotAffectChart(t *testing.T) {
	env := setupTestEnv(t)
	env.preview.err = errors.New("ffmpeg exited with status 1")

	id, secret, err := env.service.Create(validMeta(), basicAssets())
	if err != nil {
		t.Fatalf("Create should succeed despite preview failure: %v", err)
	}
	env.preview.wait(t)

	if _, err := env.repo.GetByID(id); err != nil {
		t.Errorf("row missing after preview failure: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.root, id, "audio.mp3")); err != nil {
		t.Errorf("audio missing after preview failure: %v", err)
	}
	if _, _, err := env.service.Export(id); err != nil {
		t.Errorf("Export failed after preview failure: %v", err)
	}

	// An update that retriggers the preview is just as unaffected.
	meta := validMeta()
	meta.PreviewTime = i64Ptr(30000)
	if err := env.service.Update(id, secret, meta, Assets{}); err != nil {
		t.Fatalf("Update should succeed despite preview failure: %v", err)
	}
	env.preview.wait(t)

	row, err := env.repo.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if row.PreviewTime != 30000 {
		t.Errorf("PreviewTime = %d, want 30000", row.PreviewTime)
	}
}

func TestCreateMissingRequiredField(t *testing.T) {
	env := setupTestEnv(t)

	meta := validMeta()
	meta.Title = nil

	_, _, err := env.service.Create(meta, basicAssets())
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}

	count, err := env.repo.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("rejected create left %d rows behind", count)
	}
	if entries, _ := os.ReadDir(env.root); len(entries) != 0 {
		t.Errorf("rejected create left %d asset directories behind", len(entries))
	}
}

func TestCreateUnsupportedExtensions(t *testing.T) {
	env := setupTestEnv(t)

	meta := validMeta()
	meta.AudioExt = strPtr("exe")
	if _, _, err := env.service.Create(meta, basicAssets()); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("audio_ext=exe: err = %v, want ErrInvalidInput", err)
	}

	meta = validMeta()
	meta.ImgExt = strPtr("svg")
	assets := basicAssets()
	assets.Img = strings.NewReader("img")
	if _, _, err := env.service.Create(meta, assets); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("img_ext=svg: err = %v, want ErrInvalidInput", err)
	}
}

func TestCreateExportRoundTrip(t *testing.T) {
	env := setupTestEnv(t)

	meta := validMeta()
	meta.Title = strPtr("Round Trip")
	meta.ImgExt = strPtr("png")
	meta.CreditChart = strPtr("charter")

	chartData := []byte("chart script")
	audioData := []byte{0x01, 0x02, 0x03}
	imgData := []byte{0x89, 0x50, 0x4e, 0x47}

	id, _, err := env.service.Create(meta, Assets{
		Chart: bytes.NewReader(chartData),
		Audio: bytes.NewReader(audioData),
		Img:   bytes.NewReader(imgData),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	data, contentType, err := env.service.Export(id)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if contentType != "application/zip" {
		t.Errorf("content type = %q, want application/zip", contentType)
	}

	bundle, err := archive.Unpack(data, 1<<20)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}

	if bundle.Meta.OnlineID != id {
		t.Errorf("online_id = %q, want %q", bundle.Meta.OnlineID, id)
	}
	if *bundle.Meta.Title != "Round Trip" || *bundle.Meta.Difficulty != 5 || *bundle.Meta.BPM != 180 {
		t.Errorf("exported metadata differs: %+v", bundle.Meta)
	}
	if *bundle.Meta.FirstBeat != 0 || *bundle.Meta.PreviewTime != 15000 ||
		*bundle.Meta.MeasureSize != 4 || *bundle.Meta.Snaps != 16 {
		t.Errorf("exported offsets/grid differ: %+v", bundle.Meta)
	}
	if *bundle.Meta.ImgExt != "png" || *bundle.Meta.CreditChart != "charter" {
		t.Errorf("exported optionals differ: %+v", bundle.Meta)
	}
	if !bytes.Equal(bundle.Chart, chartData) || !bytes.Equal(bundle.Audio, audioData) || !bytes.Equal(bundle.Img, imgData) {
		t.Error("exported assets are not byte-identical to the submitted ones")
	}

	// The owner hash must never appear in a bundle.
	row, err := env.repo.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if bytes.Contains(data, []byte(row.OwnerHash)) {
		t.Error("exported archive leaks the owner hash")
	}
	if bytes.Contains(data, []byte("owner_hash")) {
		t.Error("exported metadata contains an owner_hash field")
	}
}

func TestExportNotFound(t *testing.T) {
	env := setupTestEnv(t)

	if _, _, err := env.service.Export("nosuchid00"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateWrongSecret(t *testing.T) {
	env := setupTestEnv(t)

	id, _, err := env.service.Create(validMeta(), basicAssets())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	before, _, err := env.service.Export(id)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	meta := validMeta()
	meta.Title = strPtr("Hijacked")
	err = env.service.Update(id, "wrong secret", meta, Assets{Chart: strings.NewReader("evil")})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	after, _, err := env.service.Export(id)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Error("a rejected update must not change the stored chart")
	}
}

func TestUpdateNotFound(t *testing.T) {
	env := setupTestEnv(t)

	err := env.service.Update("nosuchid00", "secret", validMeta(), Assets{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateMetadataAndAudio(t *testing.T) {
	env := setupTestEnv(t)

	id, secret, err := env.service.Create(validMeta(), basicAssets())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	env.preview.wait(t) // drain the create-time preview

	meta := validMeta()
	meta.Title = strPtr("Renamed")
	meta.BPM = f64Ptr(200)
	err = env.service.Update(id, secret, meta, Assets{Audio: strings.NewReader("new audio")})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	row, err := env.repo.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if row.Title != "Renamed" || row.BPM != 200 {
		t.Errorf("row = %+v, want Renamed/200", row)
	}

	data, err := os.ReadFile(filepath.Join(env.root, id, "audio.mp3"))
	if err != nil {
		t.Fatalf("reading audio: %v", err)
	}
	if string(data) != "new audio" {
		t.Errorf("audio = %q, want overwritten contents", data)
	}

	// New audio means a fresh preview.
	env.preview.wait(t)
}

func TestUpdateCarriesOwnerHashForward(t *testing.T) {
	env := setupTestEnv(t)

	id, secret, err := env.service.Create(validMeta(), basicAssets())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := env.service.Update(id, secret, validMeta(), Assets{}); err != nil {
		t.Fatalf("first Update failed: %v", err)
	}
	// The same secret must keep working after an update.
	if err := env.service.Update(id, secret, validMeta(), Assets{}); err != nil {
		t.Fatalf("second Update failed: %v", err)
	}
}

func TestUpdateRemovesImage(t *testing.T) {
	env := setupTestEnv(t)

	meta := validMeta()
	meta.ImgExt = strPtr("png")
	assets := basicAssets()
	assets.Img = strings.NewReader("img bytes")

	id, secret, err := env.service.Create(meta, assets)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.root, id, "img.png")); err != nil {
		t.Fatalf("img.png should exist after create: %v", err)
	}

	// Update with no image at all.
	if err := env.service.Update(id, secret, validMeta(), Assets{}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(env.root, id, "img.png")); !os.IsNotExist(err) {
		t.Error("img.png should be removed when img_ext is dropped")
	}

	data, _, err := env.service.Export(id)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	bundle, err := archive.Unpack(data, 1<<20)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if bundle.Img != nil || bundle.Meta.ImgExt != nil {
		t.Error("exported archive should contain no image after removal")
	}
}

func TestUpdateExtensionChangeRequiresFile(t *testing.T) {
	env := setupTestEnv(t)

	id, secret, err := env.service.Create(validMeta(), basicAssets())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	meta := validMeta()
	meta.AudioExt = strPtr("ogg")
	err = env.service.Update(id, secret, meta, Assets{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("audio_ext change without file: err = %v, want ErrInvalidInput", err)
	}

	meta = validMeta()
	meta.ImgExt = strPtr("png")
	err = env.service.Update(id, secret, meta, Assets{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("img_ext addition without file: err = %v, want ErrInvalidInput", err)
	}
}

func TestDeleteWrongSecret(t *testing.T) {
	env := setupTestEnv(t)

	id, _, err := env.service.Create(validMeta(), basicAssets())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := env.service.Delete(id, "wrong secret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	if _, err := env.repo.GetByID(id); err != nil {
		t.Errorf("row should survive a rejected delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.root, id)); err != nil {
		t.Errorf("asset directory should survive a rejected delete: %v", err)
	}
}

func TestDelete(t *testing.T) {
	env := setupTestEnv(t)

	id, secret, err := env.service.Create(validMeta(), basicAssets())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := env.service.Delete(id, secret); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, _, err := env.service.Export(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Export after delete: err = %v, want ErrNotFound", err)
	}
	if err := env.service.Update(id, secret, validMeta(), Assets{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update after delete: err = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(filepath.Join(env.root, id)); !os.IsNotExist(err) {
		t.Error("asset directory should be gone after delete")
	}
}

func TestDeleteNotFound(t *testing.T) {
	env := setupTestEnv(t)

	if err := env.service.Delete("nosuchid00", "secret"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListPaging(t *testing.T) {
	env := setupTestEnv(t)

	// Seed rows straight through the repository; create would bcrypt 120
	// secrets for no gain here.
	for i := 0; i < 120; i++ {
		row := validMeta().ToChart(fmt.Sprintf("seeded-%03d", i), "fakehash")
		if err := env.repo.Insert(row); err != nil {
			t.Fatalf("seeding row %d: %v", i, err)
		}
	}

	seen := make(map[string]bool)
	for page := int64(0); page < 2; page++ {
		total, summaries, err := env.service.List(page)
		if err != nil {
			t.Fatalf("List(%d) failed: %v", page, err)
		}
		if total != 120 {
			t.Errorf("List(%d) total = %d, want 120", page, total)
		}
		if len(summaries) != PageSize {
			t.Fatalf("List(%d) returned %d rows, want %d", page, len(summaries), PageSize)
		}
		for i, s := range summaries {
			want := fmt.Sprintf("seeded-%03d", page*PageSize+int64(i))
			if s.ID != want {
				t.Errorf("page %d row %d = %q, want %q", page, i, s.ID, want)
			}
			if seen[s.ID] {
				t.Errorf("id %q appears on more than one page", s.ID)
			}
			seen[s.ID] = true
		}
	}
	if len(seen) != 100 {
		t.Errorf("pages 0 and 1 covered %d ids, want 100", len(seen))
	}

	// Out-of-range pages are empty, not errors.
	total, summaries, err := env.service.List(50)
	if err != nil {
		t.Fatalf("List(50) failed: %v", err)
	}
	if total != 120 || len(summaries) != 0 {
		t.Errorf("List(50) = (%d, %d rows), want (120, 0 rows)", total, len(summaries))
	}
}

// dupRepo forces the first n inserts to report an id collision.
type dupRepo struct {
	repository.ChartRepository
	failures int
}

func (r *dupRepo) Insert(chart *model.Chart) error {
	if r.failures > 0 {
		r.failures--
		return repository.ErrDuplicateID
	}
	return r.ChartRepository.Insert(chart)
}

func TestCreateRetriesOnIDCollision(t *testing.T) {
	env := setupTestEnv(t)
	repo := &dupRepo{ChartRepository: env.repo, failures: 2}
	service := NewService(repo, env.assets, env.preview)

	id, _, err := env.serviceCreateVia(service)
	if err != nil {
		t.Fatalf("Create failed despite retries: %v", err)
	}

	if _, err := env.repo.GetByID(id); err != nil {
		t.Errorf("row missing under final id: %v", err)
	}
	// The asset directory must have followed the id through the renames.
	if _, err := os.Stat(filepath.Join(env.root, id, "chart.txt")); err != nil {
		t.Errorf("assets missing under final id: %v", err)
	}
	entries, err := os.ReadDir(env.root)
	if err != nil {
		t.Fatalf("reading charts root: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("charts root holds %d directories, want 1", len(entries))
	}
}

func TestCreateGivesUpAfterBoundedRetries(t *testing.T) {
	env := setupTestEnv(t)
	repo := &dupRepo{ChartRepository: env.repo, failures: 100}
	service := NewService(repo, env.assets, env.preview)

	_, _, err := env.serviceCreateVia(service)
	if err == nil {
		t.Fatal("Create should fail when every id collides")
	}
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) {
		t.Errorf("collision exhaustion should be an internal error, got %v", err)
	}

	// The written assets must have been rolled back.
	if entries, _ := os.ReadDir(env.root); len(entries) != 0 {
		t.Errorf("failed create left %d asset directories behind", len(entries))
	}
}

func (env *testEnv) serviceCreateVia(s *Service) (string, string, error) {
	return s.Create(validMeta(), basicAssets())
}
