// Package environment exposes the client-observable context the beacon
// reads on each invocation. Every read may fail on its own with
// ErrUnavailable; callers substitute "" and carry on.
package environment

import "errors"

// ErrUnavailable reports that a value cannot be read in this environment.
var ErrUnavailable = errors.New("environment value unavailable")

// Environment is the set of reads the beacon performs.
type Environment interface {
	PageURL() (string, error)
	Referrer() (string, error)
	UserAgent() (string, error)
	Language() (string, error)
	TimeZone() (string, error)
	Screen() (string, error)
	Title() (string, error)
	ClientIP() (string, error)
}

// Static is an Environment backed by fixed values. Empty fields are
// reported as unavailable.
type Static struct {
	URL        string
	Referer    string
	Agent      string
	Lang       string
	Zone       string
	ScreenSize string
	PageTitle  string
	IP         string
}

func value(s string) (string, error) {
	if s == "" {
		return "", ErrUnavailable
	}
	return s, nil
}

func (s Static) PageURL() (string, error)   { return value(s.URL) }
func (s Static) Referrer() (string, error)  { return value(s.Referer) }
func (s Static) UserAgent() (string, error) { return value(s.Agent) }
func (s Static) Language() (string, error)  { return value(s.Lang) }
func (s Static) TimeZone() (string, error)  { return value(s.Zone) }
func (s Static) Screen() (string, error)    { return value(s.ScreenSize) }
func (s Static) Title() (string, error)     { return value(s.PageTitle) }
func (s Static) ClientIP() (string, error)  { return value(s.IP) }
