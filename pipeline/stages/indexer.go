package stages

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"
	"github.com/teranos/brandguard/audit"
	"github.com/teranos/brandguard/errors"
	"github.com/teranos/brandguard/pipeline"
)

// Fetcher copies a remote artifact to a local file
type Fetcher interface {
	Fetch(ctx context.Context, src, dst string) error
}

// GetterFetcher downloads with go-getter. Only the http and https getters
// are enabled since sources come from clients. A nil HTTP keeps go-getter's
// own client.
type GetterFetcher struct {
	HTTP *http.Client
}

// Fetch downloads src into the file dst
func (f GetterFetcher) Fetch(ctx context.Context, src, dst string) error {
	hg := &getter.HttpGetter{Client: f.HTTP}
	client := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     dst,
		Mode:    getter.ClientModeFile,
		Getters: map[string]getter.Getter{"http": hg, "https": hg},
	}
	if err := client.Get(); err != nil {
		return errors.Wrapf(err, "fetch %s", src)
	}
	return nil
}

// IngestOptions controls whether the indexer materialises media locally.
// AllowLocalSources lets a video_url name a file on this host; off, such
// sources are rejected.
type IngestOptions struct {
	Download          bool
	Dir               string
	AllowLocalSources bool
}

type indexer struct {
	opts    IngestOptions
	fetcher Fetcher
}

// NewIndexer returns the ingestion stage. It records source metadata and,
// when downloads are enabled, fetches the media into opts.Dir.
func NewIndexer(opts IngestOptions, fetcher Fetcher) pipeline.Stage {
	if fetcher == nil {
		fetcher = GetterFetcher{}
	}
	return &indexer{opts: opts, fetcher: fetcher}
}

func (ix *indexer) Name() string { return StageIndexer }

func (ix *indexer) Run(ctx context.Context, state *audit.State, emit pipeline.Emitter) (audit.Update, error) {
	src := state.VideoURL()
	if !ix.opts.AllowLocalSources && isLocalSource(src) {
		return audit.Update{}, errors.NewInvalidRequestError("local video sources are disabled")
	}
	meta, err := describeSource(src)
	if err != nil {
		return audit.Update{}, err
	}
	update := audit.Update{VideoMetadata: meta}

	// Local sources need no copy
	if local := localPath(src); local != "" {
		if _, err := os.Stat(local); err != nil {
			return audit.Update{}, errors.Wrapf(err, "local source %s", local)
		}
		update.LocalFilePath = &local
		return update, nil
	}

	if !ix.opts.Download {
		return update, nil
	}

	if err := os.MkdirAll(ix.opts.Dir, 0o755); err != nil {
		return audit.Update{}, errors.Wrapf(err, "create download dir %s", ix.opts.Dir)
	}
	ext, _ := meta["extension"].(string)
	if ext == "" {
		ext = ".mp4"
	}
	dst := filepath.Join(ix.opts.Dir, state.VideoID()+ext)

	if err := emit(map[string]any{"status": "downloading", "destination": dst}); err != nil {
		return audit.Update{}, err
	}
	if err := ix.fetcher.Fetch(ctx, src, dst); err != nil {
		// Metadata is still useful to later stages; record the failure and carry on
		update.Errors = []string{"indexer: " + err.Error()}
		return update, nil
	}
	update.LocalFilePath = &dst
	return update, nil
}

// localPath returns the filesystem path for file:// URLs and bare paths
func localPath(src string) string {
	if strings.HasPrefix(src, "file://") {
		if u, err := url.Parse(src); err == nil {
			return u.Path
		}
	}
	if filepath.IsAbs(src) {
		return src
	}
	return ""
}

// isLocalSource reports whether src names this host's filesystem, including
// file:// URLs that localPath cannot resolve
func isLocalSource(src string) bool {
	if localPath(src) != "" {
		return true
	}
	u, err := url.Parse(src)
	return err == nil && strings.EqualFold(u.Scheme, "file")
}

// describeSource derives source metadata from the URL alone
func describeSource(src string) (map[string]any, error) {
	if local := localPath(src); local != "" {
		return map[string]any{
			"scheme":    "file",
			"platform":  "local",
			"extension": strings.ToLower(filepath.Ext(local)),
		}, nil
	}

	u, err := url.Parse(src)
	if err != nil {
		return nil, errors.WrapInvalidRequest(err, "parse video url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.NewInvalidRequestError("video url %q is not absolute", src)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	meta := map[string]any{
		"scheme":    u.Scheme,
		"host":      host,
		"platform":  platformOf(host),
		"extension": strings.ToLower(path.Ext(u.Path)),
	}
	if id := youtubeID(host, u); id != "" {
		meta["youtube_id"] = id
	}
	return meta, nil
}

func platformOf(host string) string {
	switch {
	case host == "youtu.be" || strings.HasSuffix(host, "youtube.com"):
		return "youtube"
	case strings.HasSuffix(host, "vimeo.com"):
		return "vimeo"
	case strings.HasSuffix(host, "tiktok.com"):
		return "tiktok"
	default:
		return "web"
	}
}

func youtubeID(host string, u *url.URL) string {
	switch {
	case host == "youtu.be":
		return strings.Trim(u.Path, "/")
	case strings.HasSuffix(host, "youtube.com"):
		if v := u.Query().Get("v"); v != "" {
			return v
		}
		if rest, ok := strings.CutPrefix(u.Path, "/shorts/"); ok {
			return strings.Trim(rest, "/")
		}
	}
	return ""
}
