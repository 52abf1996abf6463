package environment_test

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-beacon/environment"
)

func TestRequest_FullContext(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://tuan.dev/?utm_source=x&utm_campaign=y", http.NoBody)
	r.TLS = &tls.ConnectionState{}
	r.RemoteAddr = "203.0.113.5:40000"
	r.Header.Set("Referer", "https://www.linkedin.com/")
	r.Header.Set("User-Agent", "Mozilla/5.0 Test")
	r.Header.Set("Accept-Language", "vi-VN,vi;q=0.9,en;q=0.8")
	r.AddCookie(&http.Cookie{Name: environment.TimeZoneCookie, Value: "Asia%2FHo_Chi_Minh"})
	r.AddCookie(&http.Cookie{Name: environment.ScreenCookie, Value: "1920x1080"})

	env := environment.FromRequest(r, "Tuan VN")

	got := func(v string, err error) string {
		t.Helper()
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "https://tuan.dev/?utm_source=x&utm_campaign=y", got(env.PageURL()))
	assert.Equal(t, "https://www.linkedin.com/", got(env.Referrer()))
	assert.Equal(t, "Mozilla/5.0 Test", got(env.UserAgent()))
	assert.Equal(t, "vi-VN", got(env.Language()))
	assert.Equal(t, "Asia/Ho_Chi_Minh", got(env.TimeZone()))
	assert.Equal(t, "1920x1080", got(env.Screen()))
	assert.Equal(t, "Tuan VN", got(env.Title()))
	assert.Equal(t, "203.0.113.5", got(env.ClientIP()))
}

func TestRequest_ForwardedHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://internal:8080/about", http.NoBody)
	r.Header.Set("X-Forwarded-Proto", "https, http")
	r.Header.Set("X-Forwarded-Host", "tuan.dev")

	url, err := environment.FromRequest(r, "").PageURL()
	require.NoError(t, err)
	assert.Equal(t, "https://tuan.dev/about", url)
}

func TestRequest_MissingValuesAreUnavailable(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.Header.Del("User-Agent")
	r.AddCookie(&http.Cookie{Name: environment.ScreenCookie, Value: "huge"})

	env := environment.FromRequest(r, "")

	ref, err := env.Referrer()
	require.NoError(t, err)
	assert.Empty(t, ref)

	for name, read := range map[string]func() (string, error){
		"user agent": env.UserAgent,
		"language":   env.Language,
		"timezone":   env.TimeZone,
		"screen":     env.Screen,
		"title":      env.Title,
	} {
		v, err := read()
		assert.ErrorIs(t, err, environment.ErrUnavailable, name)
		assert.Empty(t, v, name)
	}
}

func TestStatic(t *testing.T) {
	env := environment.Static{URL: "https://tuan.dev/", Zone: "UTC"}

	v, err := env.PageURL()
	require.NoError(t, err)
	assert.Equal(t, "https://tuan.dev/", v)

	_, err = env.Screen()
	assert.ErrorIs(t, err, environment.ErrUnavailable)
}

func TestRequest_WithReport(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://tuan.dev/beacon", http.NoBody)
	r.Header.Set("Referer", "https://tuan.dev/projects")
	r.AddCookie(&http.Cookie{Name: environment.ScreenCookie, Value: "1440x900"})

	env := environment.FromRequest(r, "Tuan VN").WithReport(environment.PageReport{
		URL:      "https://tuan.dev/?utm_source=cv",
		Referrer: "https://google.com/",
		Title:    "Tuan VN | Projects",
		TimeZone: "Europe/Berlin",
		Screen:   "390x844",
	})

	got := func(v string, err error) string {
		t.Helper()
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "https://tuan.dev/?utm_source=cv", got(env.PageURL()))
	assert.Equal(t, "https://google.com/", got(env.Referrer()))
	assert.Equal(t, "Tuan VN | Projects", got(env.Title()))
	assert.Equal(t, "Europe/Berlin", got(env.TimeZone()))
	// cookies written by the page win over the reported values
	assert.Equal(t, "1440x900", got(env.Screen()))
}

func TestRequest_EmptyReportFallsBack(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://tuan.dev/beacon", http.NoBody)
	r.Header.Set("Referer", "https://tuan.dev/about")

	env := environment.FromRequest(r, "Tuan VN").WithReport(environment.PageReport{URL: "javascript:alert(1)"})

	url, err := env.PageURL()
	require.NoError(t, err)
	assert.Equal(t, "https://tuan.dev/about", url)

	ref, err := env.Referrer()
	require.NoError(t, err)
	assert.Empty(t, ref, "a direct visit has no referrer even though the report request has one")

	title, err := env.Title()
	require.NoError(t, err)
	assert.Equal(t, "Tuan VN", title)

	_, err = env.TimeZone()
	assert.ErrorIs(t, err, environment.ErrUnavailable)
}
