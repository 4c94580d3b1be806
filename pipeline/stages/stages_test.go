package stages

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/brandguard/audit"
	"github.com/teranos/brandguard/errors"
	"github.com/teranos/brandguard/pipeline"
	"github.com/teranos/brandguard/rules"
)

type fakeFetcher struct {
	body string
	err  error
	src  string
}

func (f *fakeFetcher) Fetch(ctx context.Context, src, dst string) error {
	f.src = src
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte(f.body), 0o644)
}

type failingTranscriber struct{}

func (failingTranscriber) Transcribe(ctx context.Context, snap audit.Snapshot) (string, error) {
	return "", errors.New("speech service unavailable")
}

func noEmit(map[string]any) error { return nil }

func runToEnd(t *testing.T, g *pipeline.Graph, st *audit.State) []pipeline.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := g.Stream(ctx, st)
	require.NoError(t, err)
	defer stream.Close()

	var events []pipeline.Event
	for {
		ev, err := stream.Next(ctx)
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestDescribeSource(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		platform string
		ytID     string
		ext      string
	}{
		{"youtube watch", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "youtube", "dQw4w9WgXcQ", ""},
		{"youtube short link", "https://youtu.be/abc123", "youtube", "abc123", ""},
		{"youtube shorts", "https://youtube.com/shorts/xyz789", "youtube", "xyz789", ""},
		{"vimeo", "https://vimeo.com/12345", "vimeo", "", ""},
		{"direct file", "https://cdn.example.com/ads/spot.MP4", "web", "", ".mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := describeSource(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.platform, meta["platform"])
			assert.Equal(t, tt.ext, meta["extension"])
			if tt.ytID == "" {
				assert.NotContains(t, meta, "youtube_id")
			} else {
				assert.Equal(t, tt.ytID, meta["youtube_id"])
			}
		})
	}
}

func TestDescribeSource_RejectsRelative(t *testing.T) {
	_, err := describeSource("not a url")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestIndexer_MetadataOnly(t *testing.T) {
	fetcher := &fakeFetcher{}
	st := audit.NewState("https://youtu.be/abc123", "vid_12345678")

	update, err := NewIndexer(IngestOptions{}, fetcher).Run(context.Background(), st, noEmit)
	require.NoError(t, err)
	assert.Nil(t, update.LocalFilePath)
	assert.Equal(t, "youtube", update.VideoMetadata["platform"])
	assert.Empty(t, fetcher.src, "download disabled")
}

func TestIndexer_Download(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{body: "media"}
	st := audit.NewState("https://cdn.example.com/spot.webm", "vid_12345678")

	var chunks []map[string]any
	emit := func(c map[string]any) error {
		chunks = append(chunks, c)
		return nil
	}
	update, err := NewIndexer(IngestOptions{Download: true, Dir: dir}, fetcher).Run(context.Background(), st, emit)
	require.NoError(t, err)
	require.NotNil(t, update.LocalFilePath)
	assert.Equal(t, filepath.Join(dir, "vid_12345678.webm"), *update.LocalFilePath)
	assert.FileExists(t, *update.LocalFilePath)
	require.Len(t, chunks, 1)
	assert.Equal(t, "downloading", chunks[0]["status"])
}

func TestIndexer_DownloadFailureIsRecorded(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("403 forbidden")}
	st := audit.NewState("https://cdn.example.com/spot.mp4", "vid_1")

	update, err := NewIndexer(IngestOptions{Download: true, Dir: t.TempDir()}, fetcher).Run(context.Background(), st, noEmit)
	require.NoError(t, err)
	assert.Nil(t, update.LocalFilePath)
	require.Len(t, update.Errors, 1)
	assert.Contains(t, update.Errors[0], "403 forbidden")
}

func TestIndexer_LocalFile(t *testing.T) {
	media := filepath.Join(t.TempDir(), "ad.mp4")
	require.NoError(t, os.WriteFile(media, []byte("x"), 0o644))

	local := IngestOptions{AllowLocalSources: true}
	update, err := NewIndexer(local, nil).Run(context.Background(), audit.NewState("file://"+media, "vid_1"), noEmit)
	require.NoError(t, err)
	require.NotNil(t, update.LocalFilePath)
	assert.Equal(t, media, *update.LocalFilePath)
	assert.Equal(t, "local", update.VideoMetadata["platform"])

	_, err = NewIndexer(local, nil).Run(context.Background(), audit.NewState(filepath.Join(t.TempDir(), "missing.mp4"), "vid_1"), noEmit)
	assert.Error(t, err)
}

func TestIndexer_LocalSourcesRefusedByDefault(t *testing.T) {
	notes := filepath.Join(t.TempDir(), "operator-notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("DB_PASSWORD=hunter2"), 0o600))

	for _, src := range []string{notes, "file://" + notes, "FILE:///etc/passwd", "file:relative.mp4"} {
		t.Run(src, func(t *testing.T) {
			update, err := NewIndexer(IngestOptions{}, &fakeFetcher{}).Run(context.Background(), audit.NewState(src, "vid_1"), noEmit)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequestError(err))
			assert.Nil(t, update.LocalFilePath)
		})
	}
}

func TestNewGraph_LocalSourceNeverReachesClient(t *testing.T) {
	notes := filepath.Join(t.TempDir(), "operator-notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("DB_PASSWORD=hunter2"), 0o600))

	g, err := NewGraph(Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := g.Stream(ctx, audit.NewState(notes, "vid_1"))
	require.NoError(t, err)
	defer stream.Close()

	var kinds []string
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			require.NotErrorIs(t, err, io.EOF, "run must fault")
			break
		}
		kinds = append(kinds, string(ev.Kind)+":"+ev.Name)
		raw, merr := json.Marshal(ev.Data)
		require.NoError(t, merr)
		assert.NotContains(t, string(raw), "hunter2", "%s:%s", ev.Kind, ev.Name)
	}
	assert.Contains(t, kinds, "on_chain_error:indexer")
	assert.NotContains(t, kinds, "on_chain_start:transcriber")
}

func TestGetterFetcher_OnlyHTTP(t *testing.T) {
	dir := t.TempDir()
	for _, src := range []string{
		"s3::https://s3.amazonaws.com/bucket/ad.mp4",
		"gcs::https://www.googleapis.com/storage/v1/bucket/ad.mp4",
		"git::https://github.com/example/ads.git",
		filepath.Join(dir, "ad.mp4"),
	} {
		t.Run(src, func(t *testing.T) {
			err := GetterFetcher{}.Fetch(context.Background(), src, filepath.Join(dir, "out.mp4"))
			require.Error(t, err)
			assert.NoFileExists(t, filepath.Join(dir, "out.mp4"))
		})
	}
}

func TestSidecars(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "ad.mp4")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ad.txt"), []byte("  hello there \n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ad.ocr.txt"), []byte("SALE\n\n  50% OFF \n"), 0o644))

	snap := audit.Snapshot{LocalFilePath: &media}
	text, err := SidecarTranscriber{}.Transcribe(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)

	lines, err := SidecarRecognizer{}.Recognize(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, []string{"SALE", "50% OFF"}, lines)

	// No artifact, no text
	text, err = SidecarTranscriber{}.Transcribe(context.Background(), audit.Snapshot{})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestTranscriberStage_ProviderErrorIsNotFatal(t *testing.T) {
	update, err := NewTranscriberStage(failingTranscriber{}).Run(context.Background(), audit.NewState("u", "v"), noEmit)
	require.NoError(t, err)
	assert.Nil(t, update.Transcript)
	require.Len(t, update.Errors, 1)
	assert.Contains(t, update.Errors[0], "transcriber: speech service unavailable")
}

func TestAuditorAndReporter(t *testing.T) {
	st := audit.NewState("u", "vid_1")
	transcript := "Use my code SAVE20 for guaranteed results"
	require.NoError(t, st.Apply(audit.Update{Transcript: &transcript, OCRText: []string{"Totally FREE shipping"}}))

	var chunks []map[string]any
	emit := func(c map[string]any) error {
		chunks = append(chunks, c)
		return nil
	}
	update, err := NewAuditor(rules.NewActive(rules.Default())).Run(context.Background(), st, emit)
	require.NoError(t, err)
	assert.Len(t, update.ComplianceResults, 3)
	assert.Len(t, chunks, 3)
	require.NoError(t, st.Apply(update))

	update, err = NewReporter().Run(context.Background(), st, noEmit)
	require.NoError(t, err)
	require.NotNil(t, update.FinalStatus)
	assert.Equal(t, audit.StatusFail, *update.FinalStatus)
	require.NotNil(t, update.FinalReport)
	assert.Contains(t, *update.FinalReport, "Status: FAIL")
	assert.Contains(t, *update.FinalReport, "## Findings (3)")
}

func TestReporter_PassWithoutFindings(t *testing.T) {
	update, err := NewReporter().Run(context.Background(), audit.NewState("u", "v"), noEmit)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusPass, *update.FinalStatus)
	assert.Contains(t, *update.FinalReport, "No compliance issues detected.")
}

func TestNewGraph_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "ad.mp4")
	require.NoError(t, os.WriteFile(media, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ad.txt"), []byte("this is the best blender in the world"), 0o644))

	g, err := NewGraph(Options{GraphName: "brandguard", Ingest: IngestOptions{AllowLocalSources: true}})
	require.NoError(t, err)
	assert.Equal(t, []string{StageIndexer, StageTranscriber, StageOCR, StageAuditor, StageReporter}, g.Stages())

	st := audit.NewState(media, "vid_1")
	events := runToEnd(t, g, st)
	require.NotEmpty(t, events)
	assert.Equal(t, pipeline.EventStart, events[0].Kind)
	assert.Equal(t, "brandguard", events[0].Name)
	last := events[len(events)-1]
	assert.Equal(t, pipeline.EventEnd, last.Kind)
	assert.Equal(t, "brandguard", last.Name)

	snap := st.Snapshot()
	assert.Equal(t, audit.StatusPass, snap.FinalStatus, "superlatives are warnings")
	require.Len(t, snap.ComplianceResults, 1)
	assert.Equal(t, audit.SeverityWarning, snap.ComplianceResults[0].Severity)
	assert.Empty(t, snap.Errors)
}
