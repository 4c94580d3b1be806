package httpclient

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/brandguard/errors"
)

func TestCheckURL(t *testing.T) {
	tests := []struct {
		url     string
		blocked bool
	}{
		{"https://www.youtube.com/watch?v=abc", false},
		{"http://8.8.8.8/video.mp4", false},
		{"ftp://example.com/video.mp4", true},
		{"file:///etc/passwd", true},
		{"http://localhost:8000/", true},
		{"http://admin.localhost/", true},
		{"http://127.0.0.1/", true},
		{"http://10.1.2.3/", true},
		{"http://172.16.0.1/", true},
		{"http://192.168.1.10/", true},
		{"http://169.254.169.254/latest/meta-data", true},
		{"http://100.64.0.1/", true},
		{"http://[::1]/", true},
		{"http://[fd00::1]/", true},
		{"http://[::ffff:127.0.0.1]/", true},
		{"http://user@example.com/", true},
		{"http:///nohost", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			require.NoError(t, err)
			err = CheckURL(u, false)
			if tt.blocked {
				assert.True(t, errors.Is(err, ErrBlocked), "want blocked, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckURL_AllowPrivate(t *testing.T) {
	u, _ := url.Parse("http://127.0.0.1:9000/v.mp4")
	assert.NoError(t, CheckURL(u, true))

	// Scheme and userinfo rules still apply
	u, _ = url.Parse("gopher://127.0.0.1/")
	assert.Error(t, CheckURL(u, true))
}

func TestPublic(t *testing.T) {
	for addr, want := range map[string]bool{
		"1.1.1.1":            true,
		"93.184.216.34":      true,
		"2606:4700::1111":    true,
		"0.0.0.0":            false,
		"224.0.0.1":          false,
		"240.0.0.1":          false,
		"fe80::1":            false,
		"2001:db8::1":        false,
		"::ffff:192.168.0.1": false,
		"198.18.0.1":         false,
	} {
		assert.Equal(t, want, Public(netip.MustParseAddr(addr)), addr)
	}
}

func TestNew_BlocksLoopbackServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video"))
	}))
	defer ts.Close()

	guarded := New(Options{Timeout: 5 * time.Second})
	_, err := guarded.Get(ts.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBlocked))

	open := New(Options{Timeout: 5 * time.Second, AllowPrivate: true})
	resp, err := open.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNew_RedirectRules(t *testing.T) {
	c := New(Options{MaxRedirects: 2})
	first, err := http.NewRequest(http.MethodGet, "https://cdn.example.com/v.mp4", nil)
	require.NoError(t, err)

	internal, err := http.NewRequest(http.MethodGet, "http://localhost/admin", nil)
	require.NoError(t, err)
	err = c.CheckRedirect(internal, []*http.Request{first})
	assert.True(t, errors.Is(err, ErrBlocked), "got %v", err)

	public, err := http.NewRequest(http.MethodGet, "https://media.example.com/v.mp4", nil)
	require.NoError(t, err)
	assert.NoError(t, c.CheckRedirect(public, []*http.Request{first}))
	assert.Error(t, c.CheckRedirect(public, []*http.Request{first, first}))
}
