// Package blockpage serves the page blocked sites land on and redirects
// navigations that slip past the blocking rules.
package blockpage

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
)

// Path is where blocked navigations are sent
const Path = "/blocked"

var page = template.Must(template.New("blocked").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>{{.Site}} is blocked</title>
<style>
body{font-family:system-ui,sans-serif;background:#1e1e2e;color:#cdd6f4;display:flex;align-items:center;justify-content:center;height:100vh;margin:0}
main{max-width:32rem;text-align:center}
code{background:#313244;padding:.2rem .4rem;border-radius:4px}
</style></head>
<body><main>
<h1>{{if .Site}}{{.Site}}{{else}}This site{{end}} is blocked</h1>
<p>Finish your tasks to unlock it.</p>
{{if .Site}}<p><code>taskgate unlock {{.Site}}</code></p>{{end}}
</main></body>
</html>
`))

// Checker reports whether a host is blocked and still locked
type Checker interface {
	IsLocked(ctx context.Context, host string) (site string, locked bool, err error)
}

// Server is the block page server
type Server struct {
	checker Checker
	router  *gin.Engine
	log     *slog.Logger
}

// New creates a block page server
func New(checker Checker, log *slog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetHTMLTemplate(page)

	s := &Server{checker: checker, router: router, log: log}
	router.GET(Path, s.handleBlocked)
	router.NoRoute(s.handleNavigation)
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx ends
func (s *Server) Run(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.router)
}

func (s *Server) handleBlocked(c *gin.Context) {
	c.HTML(http.StatusOK, "blocked", gin.H{"Site": c.Query("site")})
}

// handleNavigation catches any request that reached us through a blocked
// host. Locked hosts go to the block page; hosts unlocked since the rules
// were written go back where they were heading.
func (s *Server) handleNavigation(c *gin.Context) {
	host := c.Request.Host
	site, locked, err := s.checker.IsLocked(c.Request.Context(), host)
	if err != nil {
		s.log.Warn("Failed to check host", "host", host, "error", err)
		locked, site = true, ""
	}
	if locked {
		target := Path
		if site != "" {
			target += "?site=" + url.QueryEscape(site)
		}
		c.Redirect(http.StatusFound, target)
		return
	}
	c.Redirect(http.StatusFound, "https://"+host+c.Request.URL.RequestURI())
}

// serve runs handler on addr and shuts down gracefully when ctx ends
func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
