// Package geo resolves a visitor's approximate location through two public
// lookup services: a combined IP+geo tier and an IP-only fallback.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"portfolio-beacon/models"
)

// ErrLookupFailed is returned when neither tier produced a usable answer.
var ErrLookupFailed = errors.New("geolocation lookup failed")

// ipPlaceholder in a tier URL is replaced with the visitor's address.
const ipPlaceholder = "{ip}"

const maxBodyBytes = 64 << 10

// Source names the tier that produced a Result.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
	SourceNone     Source = "none"
)

// Result is the outcome of Resolve.
type Result struct {
	Location models.GeoLocation
	Source   Source
}

// Resolver queries the tier URLs with the supplied client.
type Resolver struct {
	client      *http.Client
	primaryURL  string
	fallbackURL string
}

func NewResolver(client *http.Client, primaryURL, fallbackURL string) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{
		client:      client,
		primaryURL:  primaryURL,
		fallbackURL: fallbackURL,
	}
}

// Resolve tries the primary tier, then the fallback tier. When both fail the
// returned Result is empty with SourceNone and the error wraps ErrLookupFailed.
// There is no retry within a tier.
func (r *Resolver) Resolve(ctx context.Context, ip string) (Result, error) {
	loc, primaryErr := r.lookupPrimary(ctx, ip)
	if primaryErr == nil {
		return Result{Location: loc, Source: SourcePrimary}, nil
	}

	addr, fallbackErr := r.lookupFallback(ctx, ip)
	if fallbackErr == nil {
		return Result{Location: models.GeoLocation{IP: addr}, Source: SourceFallback}, nil
	}

	return Result{Source: SourceNone}, fmt.Errorf("%w: %w", ErrLookupFailed,
		errors.Join(
			fmt.Errorf("primary: %w", primaryErr),
			fmt.Errorf("fallback: %w", fallbackErr),
		))
}

func (r *Resolver) lookupPrimary(ctx context.Context, ip string) (models.GeoLocation, error) {
	var data struct {
		IP          string `json:"ip"`
		CountryName string `json:"country_name"`
		Country     string `json:"country"`
		Region      string `json:"region"`
		City        string `json:"city"`
		Error       bool   `json:"error"`
		Reason      string `json:"reason"`
	}

	if err := r.getJSON(ctx, r.primaryURL, ip, &data); err != nil {
		return models.GeoLocation{}, err
	}
	// ipapi.co answers rate limits and reserved ranges with 200 and an error flag.
	if data.Error {
		return models.GeoLocation{}, fmt.Errorf("service error: %s", data.Reason)
	}

	country := data.CountryName
	if country == "" {
		country = data.Country
	}
	return models.GeoLocation{
		IP:      data.IP,
		Country: country,
		Region:  data.Region,
		City:    data.City,
	}, nil
}

func (r *Resolver) lookupFallback(ctx context.Context, ip string) (string, error) {
	var data struct {
		IP string `json:"ip"`
	}
	if err := r.getJSON(ctx, r.fallbackURL, ip, &data); err != nil {
		return "", err
	}
	return data.IP, nil
}

func (r *Resolver) getJSON(ctx context.Context, tierURL, ip string, out any) error {
	if tierURL == "" {
		return errors.New("tier not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Expand(tierURL, ip), http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Expand fills the {ip} placeholder in a tier URL. Without an address the
// "/{ip}" path segment is dropped so the service reports the caller's own.
func Expand(tierURL, ip string) string {
	if ip == "" {
		return strings.ReplaceAll(strings.ReplaceAll(tierURL, "/"+ipPlaceholder, ""), ipPlaceholder, "")
	}
	return strings.ReplaceAll(tierURL, ipPlaceholder, url.PathEscape(ip))
}
