package geo_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-beacon/geo"
	"portfolio-beacon/models"
)

type tier struct {
	server *httptest.Server
	hits   atomic.Int32
	path   atomic.Value
}

func newTier(t *testing.T, status int, body string) *tier {
	t.Helper()

	tr := &tier{}
	tr.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr.hits.Add(1)
		tr.path.Store(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(tr.server.Close)
	return tr
}

func resolve(t *testing.T, primary, fallback *tier, ip string) (geo.Result, error) {
	t.Helper()

	r := geo.NewResolver(http.DefaultClient, primary.server.URL+"/{ip}/json/", fallback.server.URL+"/{ip}/json")
	return r.Resolve(context.Background(), ip)
}

func TestResolve_PrimarySucceeds(t *testing.T) {
	primary := newTier(t, http.StatusOK,
		`{"ip":"203.0.113.5","country_name":"Vietnam","country":"VN","region":"Hanoi","city":"Hanoi"}`)
	fallback := newTier(t, http.StatusOK, `{"ip":"203.0.113.5"}`)

	res, err := resolve(t, primary, fallback, "203.0.113.5")
	require.NoError(t, err)

	assert.Equal(t, geo.SourcePrimary, res.Source)
	assert.Equal(t, models.GeoLocation{IP: "203.0.113.5", Country: "Vietnam", Region: "Hanoi", City: "Hanoi"}, res.Location)
	assert.Equal(t, "/203.0.113.5/json/", primary.path.Load())
	assert.Zero(t, fallback.hits.Load())
}

func TestResolve_CountryCodeWhenNameMissing(t *testing.T) {
	primary := newTier(t, http.StatusOK, `{"ip":"203.0.113.5","country":"VN","region":"","city":"Hue"}`)
	fallback := newTier(t, http.StatusOK, `{}`)

	res, err := resolve(t, primary, fallback, "")
	require.NoError(t, err)
	assert.Equal(t, "VN", res.Location.Country)
	assert.Equal(t, "/json/", primary.path.Load())
}

func TestResolve_FallsBackToIPOnly(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non-success status", http.StatusTooManyRequests, `{"error":true}`},
		{"malformed body", http.StatusOK, `<html>`},
		{"error flag", http.StatusOK, `{"error":true,"reason":"RateLimited"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := newTier(t, tt.status, tt.body)
			fallback := newTier(t, http.StatusOK, `{"ip":"198.51.100.8","city":"ignored"}`)

			res, err := resolve(t, primary, fallback, "198.51.100.8")
			require.NoError(t, err)

			assert.Equal(t, geo.SourceFallback, res.Source)
			assert.Equal(t, models.GeoLocation{IP: "198.51.100.8"}, res.Location)
			assert.EqualValues(t, 1, primary.hits.Load())
			assert.EqualValues(t, 1, fallback.hits.Load())
		})
	}
}

func TestResolve_PrimaryUnreachable(t *testing.T) {
	primary := newTier(t, http.StatusOK, `{}`)
	primary.server.Close()
	fallback := newTier(t, http.StatusOK, `{"ip":"198.51.100.9"}`)

	res, err := resolve(t, primary, fallback, "")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.9", res.Location.IP)
}

func TestResolve_BothTiersFail(t *testing.T) {
	primary := newTier(t, http.StatusInternalServerError, ``)
	fallback := newTier(t, http.StatusBadGateway, ``)

	res, err := resolve(t, primary, fallback, "198.51.100.8")
	require.ErrorIs(t, err, geo.ErrLookupFailed)

	assert.Equal(t, geo.SourceNone, res.Source)
	assert.Equal(t, models.GeoLocation{}, res.Location)
	assert.EqualValues(t, 1, primary.hits.Load())
	assert.EqualValues(t, 1, fallback.hits.Load())
}

func TestExpand(t *testing.T) {
	assert.Equal(t, "https://ipapi.co/1.2.3.4/json/", geo.Expand("https://ipapi.co/{ip}/json/", "1.2.3.4"))
	assert.Equal(t, "https://ipapi.co/json/", geo.Expand("https://ipapi.co/{ip}/json/", ""))
	assert.Equal(t, "https://ipinfo.io/json", geo.Expand("https://ipinfo.io/{ip}/json", ""))
	assert.Equal(t, "https://api.ipify.org?format=json", geo.Expand("https://api.ipify.org?format=json", "1.2.3.4"))
	assert.Equal(t, "https://ipapi.co/2001:db8::1/json/", geo.Expand("https://ipapi.co/{ip}/json/", "2001:db8::1"))
}
