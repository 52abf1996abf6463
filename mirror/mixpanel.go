// Package mirror forwards tracked visits to secondary analytics sinks.
package mirror

import (
	"context"
	"time"

	"github.com/dukex/mixpanel"

	"portfolio-beacon/beacon"
	"portfolio-beacon/models"
)

// PageViewEvent is the Mixpanel event name for a tracked visit.
const PageViewEvent = "page_view"

// DefaultMixpanelURL is the Mixpanel ingestion API.
const DefaultMixpanelURL = "https://api.mixpanel.com"

// Mixpanel mirrors each visit as a page_view event keyed by session.
type Mixpanel struct {
	client mixpanel.Mixpanel
}

var _ beacon.Mirror = (*Mixpanel)(nil)

func NewMixpanel(client mixpanel.Mixpanel) *Mixpanel {
	return &Mixpanel{client: client}
}

func (m *Mixpanel) Name() string {
	return "mixpanel"
}

func (m *Mixpanel) Forward(ctx context.Context, visit models.Visit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := visit.Payload
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	var at *time.Time
	if err == nil {
		at = &ts
	}

	// IP "0" tells Mixpanel not to geolocate the ingestion request itself.
	ip := p.IP
	if ip == "" {
		ip = "0"
	}

	return m.client.Track(visit.SessionID, PageViewEvent, &mixpanel.Event{
		IP:        ip,
		Timestamp: at,
		Properties: map[string]interface{}{
			"url":          p.URL,
			"path":         p.Path,
			"referrer":     p.Referrer,
			"utm_source":   p.UTMSource,
			"utm_medium":   p.UTMMedium,
			"utm_campaign": p.UTMCampaign,
			"utm_term":     p.UTMTerm,
			"utm_content":  p.UTMContent,
			"language":     p.Language,
			"timezone":     p.Timezone,
			"screen":       p.Screen,
			"title":        p.PageTitle,
			"country":      p.Country,
			"region":       p.Region,
			"city":         p.City,
		},
	})
}
