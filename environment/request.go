package environment

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/language"

	"portfolio-beacon/utils"
)

// Cookies written by the static page so the server can see values only the
// browser knows.
const (
	TimeZoneCookie = "tz"
	ScreenCookie   = "screen"
)

var screenPattern = regexp.MustCompile(`^\d{1,5}x\d{1,5}$`)

// PageReport is what the loaded page posts to the beacon route. Every field
// is optional.
type PageReport struct {
	URL      string `json:"url"`
	Referrer string `json:"referrer"`
	Title    string `json:"title"`
	TimeZone string `json:"timezone"`
	Screen   string `json:"screen"`
}

// Request reads the environment from an incoming page request. It copies
// what it needs up front so it stays valid after the handler returns.
type Request struct {
	header     http.Header
	url        url.URL
	host       string
	tls        bool
	remoteAddr string
	title      string
	report     *PageReport
}

// FromRequest captures r. title is the page title of the served site.
func FromRequest(r *http.Request, title string) *Request {
	env := &Request{
		header:     r.Header.Clone(),
		host:       r.Host,
		tls:        r.TLS != nil,
		remoteAddr: r.RemoteAddr,
		title:      title,
	}
	if r.URL != nil {
		env.url = *r.URL
	}
	return env
}

// WithReport returns a copy of e that prefers the values reported by the
// page over those derived from the request itself.
func (e *Request) WithReport(report PageReport) *Request {
	c := *e
	c.report = &report
	return &c
}

// PageURL is the reported page URL, else the Referer of the report request,
// else the URL of the request itself.
func (e *Request) PageURL() (string, error) {
	if e.report != nil {
		if u, ok := absoluteURL(e.report.URL); ok {
			return u, nil
		}
		if u, ok := absoluteURL(e.header.Get("Referer")); ok {
			return u, nil
		}
		return "", ErrUnavailable
	}

	scheme := "http"
	if e.tls {
		scheme = "https"
	}
	if proto := firstValue(e.header.Get("X-Forwarded-Proto")); proto != "" {
		scheme = proto
	}

	host := e.host
	if fwd := firstValue(e.header.Get("X-Forwarded-Host")); fwd != "" {
		host = fwd
	}
	if host == "" {
		return "", ErrUnavailable
	}

	path := e.url.Path
	if path == "" {
		path = "/"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: path, RawQuery: e.url.RawQuery}
	return u.String(), nil
}

// Referrer is "" without error when the page was opened directly.
func (e *Request) Referrer() (string, error) {
	if e.report != nil {
		return e.report.Referrer, nil
	}
	return e.header.Get("Referer"), nil
}

func (e *Request) UserAgent() (string, error) {
	return value(e.header.Get("User-Agent"))
}

// Language returns the visitor's most preferred Accept-Language tag.
func (e *Request) Language() (string, error) {
	raw := e.header.Get("Accept-Language")
	if raw == "" {
		return "", ErrUnavailable
	}
	tags, _, err := language.ParseAcceptLanguage(raw)
	if err != nil || len(tags) == 0 {
		return "", ErrUnavailable
	}
	return tags[0].String(), nil
}

func (e *Request) TimeZone() (string, error) {
	tz := e.cookie(TimeZoneCookie)
	if tz == "" && e.report != nil {
		tz = e.report.TimeZone
	}
	if tz == "" || strings.ContainsAny(tz, " \t") {
		return "", ErrUnavailable
	}
	return tz, nil
}

func (e *Request) Screen() (string, error) {
	screen := e.cookie(ScreenCookie)
	if screen == "" && e.report != nil {
		screen = e.report.Screen
	}
	if !screenPattern.MatchString(screen) {
		return "", ErrUnavailable
	}
	return screen, nil
}

func (e *Request) Title() (string, error) {
	if e.report != nil && e.report.Title != "" {
		return e.report.Title, nil
	}
	return value(e.title)
}

func (e *Request) ClientIP() (string, error) {
	return value(utils.ClientIP(e.header, e.remoteAddr))
}

func (e *Request) cookie(name string) string {
	r := http.Request{Header: e.header}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	v, err := url.QueryUnescape(c.Value)
	if err != nil {
		return ""
	}
	return v
}

func absoluteURL(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return u.String(), true
}

func firstValue(h string) string {
	if i := strings.IndexByte(h, ','); i >= 0 {
		h = h[:i]
	}
	return strings.TrimSpace(h)
}
