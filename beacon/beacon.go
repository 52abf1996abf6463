// Package beacon implements the once-per-session visitor analytics beacon.
//
// Track never returns an error and never panics into its caller: every
// failure is logged and absorbed so that tracking cannot affect page loads.
package beacon

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"portfolio-beacon/environment"
	"portfolio-beacon/geo"
	"portfolio-beacon/logger"
	"portfolio-beacon/metrics"
	"portfolio-beacon/models"
	"portfolio-beacon/session"
)

// timestampLayout matches JavaScript's Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// GeoResolver looks up the visitor's approximate location.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (geo.Result, error)
}

// Sender transmits a payload. Implementations must not inspect the response.
type Sender interface {
	Send(ctx context.Context, endpoint string, payload models.TrackingPayload) error
}

// Mirror receives a copy of each transmitted visit.
type Mirror interface {
	Name() string
	Forward(ctx context.Context, visit models.Visit) error
}

type Beacon struct {
	resolver GeoResolver
	sender   Sender
	mirrors  []Mirror
	metrics  *metrics.Metrics
	log      logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

type Option func(*Beacon)

// WithMirrors adds secondary sinks notified after each transmission attempt.
func WithMirrors(mirrors ...Mirror) Option {
	return func(b *Beacon) {
		b.mirrors = append(b.mirrors, mirrors...)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Beacon) {
		b.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Beacon) {
		b.now = now
	}
}

func New(resolver GeoResolver, sender Sender, log logger.Logger, opts ...Option) *Beacon {
	b := &Beacon{
		resolver: resolver,
		sender:   sender,
		log:      log.With(logger.String("component", "beacon")),
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Track sends at most one payload per session to endpoint.
//
// The session flag is set after a transmission attempt whether or not it
// succeeded. A missing endpoint skips transmission and leaves the flag unset,
// so a later call with an endpoint can still send.
func (b *Beacon) Track(ctx context.Context, sess *session.Session, env environment.Environment, endpoint string) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("Tracking error", logger.Any("panic", r))
		}
	}()

	if sess == nil || env == nil {
		b.log.Warn("Tracking skipped without a session or environment")
		return
	}
	log := b.log.With(logger.String("session", sess.ID()))

	if !b.claim(sess.ID()) {
		b.metrics.RecordOutcome(metrics.OutcomeInFlight)
		return
	}
	defer b.release(sess.ID())

	tracked, err := sess.Tracked(ctx)
	if err != nil {
		log.Warn("Session store unavailable, treating session as untracked", logger.Error(err))
	}
	if tracked {
		b.metrics.RecordOutcome(metrics.OutcomeSkipped)
		return
	}

	page := b.collect(env)

	if endpoint == "" {
		log.Warn("No endpoint provided. Skipping send.")
		b.metrics.RecordOutcome(metrics.OutcomeNoEndpoint)
		return
	}

	// The send must outlive the page request that triggered it.
	detached := context.WithoutCancel(ctx)

	payload := page.payload(b.locate(detached, log, page.clientIP))

	if err := b.send(detached, endpoint, payload); err != nil {
		log.Warn("Tracking send failed", logger.Error(err))
		b.metrics.RecordOutcome(metrics.OutcomeSendFailed)
	} else {
		log.Info("Tracking sent", logger.String("path", payload.Path))
		b.metrics.RecordOutcome(metrics.OutcomeSent)
	}

	if err := sess.MarkTracked(detached); err != nil {
		log.Warn("Failed to set session flag", logger.Error(err))
	}

	b.forward(detached, log, models.Visit{SessionID: sess.ID(), Payload: payload})
}

func (b *Beacon) claim(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, busy := b.inflight[id]; busy {
		return false
	}
	b.inflight[id] = struct{}{}
	return true
}

func (b *Beacon) release(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.inflight, id)
}

// locate collapses the tiered lookup to best-effort defaults.
func (b *Beacon) locate(ctx context.Context, log logger.Logger, ip string) models.GeoLocation {
	res, err := b.resolver.Resolve(ctx, ip)
	b.metrics.RecordGeo(string(res.Source))
	if err != nil {
		log.Warn("Geolocation unavailable", logger.Error(err))
		return models.GeoLocation{}
	}
	if res.Source == geo.SourceFallback {
		log.Debug("Geolocation fell back to IP-only lookup")
	}
	return res.Location
}

func (b *Beacon) send(ctx context.Context, endpoint string, payload models.TrackingPayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panicked: %v", r)
		}
	}()
	return b.sender.Send(ctx, endpoint, payload)
}

func (b *Beacon) forward(ctx context.Context, log logger.Logger, visit models.Visit) {
	for _, m := range b.mirrors {
		err := forwardSafely(ctx, m, visit)
		b.metrics.RecordMirror(m.Name(), err)
		if err != nil {
			log.Warn("Mirror forward failed", logger.String("mirror", m.Name()), logger.Error(err))
		}
	}
}

func forwardSafely(ctx context.Context, m Mirror, visit models.Visit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mirror panicked: %v", r)
		}
	}()
	return m.Forward(ctx, visit)
}

// pageContext is everything read synchronously from the environment.
type pageContext struct {
	timestamp string
	url       string
	path      string
	params    map[string]string
	referrer  string
	userAgent string
	language  string
	timezone  string
	screen    string
	title     string
	clientIP  string
}

func (b *Beacon) collect(env environment.Environment) pageContext {
	page := pageContext{
		timestamp: b.now().UTC().Format(timestampLayout),
		params:    map[string]string{},
		referrer:  read(env.Referrer),
		userAgent: read(env.UserAgent),
		language:  read(env.Language),
		timezone:  read(env.TimeZone),
		screen:    read(env.Screen),
		title:     read(env.Title),
		clientIP:  read(env.ClientIP),
	}

	if raw := read(env.PageURL); raw != "" {
		if u, err := url.Parse(raw); err == nil {
			page.url = u.String()
			page.path = u.Path
			page.params = queryParams(u)
		}
	}
	return page
}

func (p pageContext) payload(loc models.GeoLocation) models.TrackingPayload {
	return models.TrackingPayload{
		Timestamp:   p.timestamp,
		URL:         p.url,
		Path:        p.path,
		Referrer:    p.referrer,
		UTMSource:   p.params["utm_source"],
		UTMMedium:   p.params["utm_medium"],
		UTMCampaign: p.params["utm_campaign"],
		UTMTerm:     p.params["utm_term"],
		UTMContent:  p.params["utm_content"],
		UserAgent:   p.userAgent,
		Language:    p.language,
		Timezone:    p.timezone,
		Screen:      p.screen,
		PageTitle:   p.title,
		IP:          loc.IP,
		Country:     loc.Country,
		Region:      loc.Region,
		City:        loc.City,
	}
}

// queryParams flattens the query string; the last occurrence of a key wins.
func queryParams(u *url.URL) map[string]string {
	params := make(map[string]string)
	for key, values := range u.Query() {
		if len(values) > 0 {
			params[key] = values[len(values)-1]
		}
	}
	return params
}

// read performs one environment read, substituting "" on any failure.
func read(fn func() (string, error)) (v string) {
	defer func() {
		if r := recover(); r != nil {
			v = ""
		}
	}()
	v, err := fn()
	if err != nil {
		return ""
	}
	return v
}
