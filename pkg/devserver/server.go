// Package devserver serves the build output and pushes live-reload events
// to connected browsers.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io/v2/socket"
)

// Options configures the development server
type Options struct {
	Host    string
	Port    int
	BaseDir string
	// Notify shows build errors in the browser
	Notify bool
	// Debounce groups reload requests arriving close together
	Debounce        time.Duration
	ClientScriptURL string
}

// Server is a static file server with a live-reload channel
type Server struct {
	opts    Options
	io      *socket.Server
	router  *gin.Engine
	files   http.FileSystem
	snippet []byte
	logger  zerolog.Logger

	// emit broadcasts to every connected browser
	emit func(event string, args ...any)

	mu      sync.Mutex
	pending []string
	timer   *time.Timer

	httpServer *http.Server
	listener   net.Listener
}

// New creates a server. Nothing listens until Start.
func New(opts Options, logger zerolog.Logger) *Server {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Debounce == 0 {
		opts.Debounce = 50 * time.Millisecond
	}
	if opts.ClientScriptURL == "" {
		opts.ClientScriptURL = ClientScriptURL
	}

	ioOpts := socket.DefaultServerOptions()
	ioOpts.SetServeClient(false)
	ioOpts.SetCors(&types.Cors{Origin: "*"})
	ioOpts.SetTransports(types.NewSet("polling", "websocket"))

	s := &Server{
		opts:    opts,
		io:      socket.NewServer(nil, ioOpts),
		files:   gin.Dir(opts.BaseDir, true),
		snippet: clientSnippet(opts.ClientScriptURL),
		logger:  logger.With().Str("component", "devserver").Logger(),
	}
	s.emit = func(event string, args ...any) { s.io.Sockets().Emit(event, args...) }

	s.io.On("connection", func(clients ...any) {
		if client, ok := clients[0].(*socket.Socket); ok {
			s.logger.Debug().Str("client", string(client.Id())).Msg("Browser connected")
		}
	})

	s.router = s.setupRouter()
	return s
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(s.requestLogger())
	r.Use(gin.Recovery())

	r.Any("/socket.io/*any", gin.WrapH(s.io.ServeHandler(nil)))
	// Output files live at the root, next to the reload channel
	r.NoRoute(s.serveStatic)

	return r
}

// requestLogger logs every request at debug level
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request served")
	}
}

// Handler returns the HTTP handler serving files and the reload channel
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.opts.Host, fmt.Sprint(s.opts.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		// Serve returns ErrServerClosed on graceful shutdown
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Development server failed unexpectedly")
		}
	}()

	s.logger.Info().Str("url", s.URL()).Str("dir", s.opts.BaseDir).Msg("Serving files")
	return nil
}

// URL returns the address browsers should open
func (s *Server) URL() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String() + "/"
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown stops accepting connections and waits up to five seconds for
// in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.io.Close(nil)
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.logger.Info().Msg("Shutting down development server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Development server shutdown failed")
		return err
	}
	return nil
}

func (s *Server) serveStatic(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	c.Header("Cache-Control", "no-cache")

	name := path.Clean("/" + c.Request.URL.Path)
	file := filepath.Join(s.opts.BaseDir, filepath.FromSlash(name))
	if info, err := os.Stat(file); err == nil && info.IsDir() {
		file = filepath.Join(file, "index.html")
	}

	if strings.EqualFold(filepath.Ext(file), ".html") {
		if data, err := os.ReadFile(file); err == nil {
			c.Data(http.StatusOK, "text/html; charset=utf-8", Inject(data, s.snippet))
			return
		}
	}
	c.FileFromFS(name, s.files)
}

// Reload schedules a browser refresh for the written paths. Requests
// within the debounce window are sent as one event: "css" when every path
// is a stylesheet or source map, "reload" otherwise.
func (s *Server) Reload(paths []string) {
	if len(paths) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, paths...)
	if s.timer == nil {
		s.timer = time.AfterFunc(s.opts.Debounce, s.flush)
		return
	}
	s.timer.Reset(s.opts.Debounce)
}

func (s *Server) flush() {
	s.mu.Lock()
	paths := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(paths) == 0 {
		return
	}

	rel := make([]string, 0, len(paths))
	cssOnly := true
	for _, p := range paths {
		if r, err := filepath.Rel(s.opts.BaseDir, p); err == nil {
			p = r
		}
		rel = append(rel, filepath.ToSlash(p))
		switch strings.ToLower(filepath.Ext(p)) {
		case ".css", ".map":
		default:
			cssOnly = false
		}
	}

	event := "reload"
	if cssOnly {
		event = "css"
	}
	s.logger.Debug().Str("event", event).Strs("paths", rel).Msg("Reloading browsers")
	s.emit(event, rel)
}

// Notify shows a message in connected browsers when notifications are
// enabled
func (s *Server) Notify(title, message string) {
	if !s.opts.Notify {
		return
	}
	s.emit("notify", map[string]string{"title": title, "message": message})
}
