package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"portfolio-beacon/beacon"
	"portfolio-beacon/config"
	"portfolio-beacon/environment"
	"portfolio-beacon/logger"
	"portfolio-beacon/session"
	"portfolio-beacon/utils"
)

const (
	beaconPath     = "/beacon"
	maxReportBytes = 8 << 10

	readTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

// Server hosts the static portfolio and fires the beacon once per browsing
// session when the loaded page reports in.
type Server struct {
	router   *gin.Engine
	config   *config.Config
	beacon   *beacon.Beacon
	sessions session.Store
	registry *prometheus.Registry
	log      logger.Logger
	server   *http.Server

	// baseCtx outlives individual requests so beacons survive the visitor
	// navigating away.
	baseCtx context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

func NewServer(
	cfg *config.Config,
	log logger.Logger,
	b *beacon.Beacon,
	sessions session.Store,
	registry *prometheus.Registry,
) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		router:   router,
		config:   cfg,
		beacon:   b,
		sessions: sessions,
		registry: registry,
		log:      log,
		baseCtx:  ctx,
		cancel:   cancel,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	s.router.POST(beaconPath, s.trackVisit)

	// Everything else is the static site.
	s.router.NoRoute(s.sessionMiddleware(), s.serveSite)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"service":     "portfolio-beacon",
		"environment": s.config.App.Env,
		"tracking":    s.config.Tracking.Endpoint != "",
	})
}

// sessionMiddleware assigns the session cookie on page navigations so the
// page's later beacon request carries it.
func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isPageNavigation(c.Request) {
			s.sessionID(c)
		}
		c.Next()
	}
}

// trackVisit is called by the page script once it has loaded, so the
// browser-only values (timezone, screen) are available. Bots are answered
// but not tracked.
func (s *Server) trackVisit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxReportBytes)

	var report environment.PageReport
	if err := c.ShouldBindJSON(&report); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page report"})
		return
	}

	sid := s.sessionID(c)
	if utils.IsBot(c.Request.UserAgent()) {
		c.Status(http.StatusNoContent)
		return
	}

	env := environment.FromRequest(c.Request, s.config.Site.Title).WithReport(report)
	sess := session.New(sid, session.Scoped(s.sessions, sid))

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.beacon.Track(s.baseCtx, sess, env, s.config.Tracking.Endpoint)
	}()

	c.Status(http.StatusNoContent)
}

// sessionID returns the visitor's session cookie, issuing a new one when it
// is missing or malformed. The cookie has no Max-Age so the browser drops it
// when the session ends.
func (s *Server) sessionID(c *gin.Context) string {
	if sid, err := c.Cookie(s.config.Session.CookieName); err == nil {
		if _, parseErr := uuid.Parse(sid); parseErr == nil {
			return sid
		}
	}

	sid := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.config.Session.CookieName, sid, 0, "/", "", c.Request.TLS != nil, true)
	return sid
}

func isPageNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if dest := r.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest == "document"
	}
	if ext := path.Ext(r.URL.Path); ext != "" && ext != ".html" {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// serveSite serves files from the site directory, falling back to the index
// page for client-side routes.
func (s *Server) serveSite(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusMethodNotAllowed)
		return
	}

	rel := path.Clean("/" + c.Request.URL.Path)
	file := filepath.Join(s.config.Site.Dir, filepath.FromSlash(rel))

	if info, err := os.Stat(file); err == nil && !info.IsDir() {
		c.File(file)
		return
	}

	if ext := path.Ext(rel); ext != "" && ext != ".html" {
		c.Status(http.StatusNotFound)
		return
	}
	c.File(filepath.Join(s.config.Site.Dir, s.config.Site.Index))
}

func (s *Server) Start() error {
	addr := s.config.Address()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	s.log.Info("Server starting",
		logger.String("address", addr),
		logger.String("environment", s.config.App.Env),
		logger.String("site_dir", s.config.Site.Dir),
	)
	if s.config.Tracking.Endpoint == "" {
		s.log.Warn("No tracking endpoint configured, visits will not be sent")
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Server error", logger.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests, then waits for in-flight beacons until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("Abandoning in-flight beacons on shutdown")
	}
	s.cancel()
	return err
}
