// Package api is the daemon's control surface: a JSON API over HTTP and the
// websocket endpoint for tab companions. Every response is an envelope with
// "ok" set, and "error" holding the message when ok is false.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dori/taskgate/internal/backup"
	"github.com/dori/taskgate/internal/gate"
)

// Server serves the control API
type Server struct {
	gate    *gate.Gate
	backups *backup.Manager
	router  *gin.Engine
	log     *slog.Logger
}

// NewServer creates the API server. tabs serves companion websockets at
// /ws and may be nil.
func NewServer(g *gate.Gate, backups *backup.Manager, tabs http.Handler, log *slog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{gate: g, backups: backups, router: router, log: log}

	api := router.Group("/api")
	{
		api.GET("/state", s.handleState)

		api.POST("/tasks", s.handleUpdateTasks)
		api.POST("/tasks/add", s.handleAddTask)
		api.POST("/tasks/:id/toggle", s.handleToggleTask)
		api.PATCH("/tasks/:id", s.handleEditTask)
		api.DELETE("/tasks/:id", s.handleDeleteTask)

		api.POST("/sites", s.handleAddSite)
		api.DELETE("/sites/:site", s.handleRemoveSite)
		api.PATCH("/sites/:site/settings", s.handleSiteSettings)

		api.POST("/unlock", s.handleUnlock)
		api.POST("/pause", s.handlePause)
		api.POST("/relock", s.handleRelock)

		api.PATCH("/config", s.handleConfig)

		api.POST("/groups", s.handleAddGroup)
		api.PUT("/groups/:id", s.handleUpdateGroup)
		api.DELETE("/groups/:id", s.handleRemoveGroup)

		api.GET("/backup", s.handleBackupStatus)
		api.POST("/backup", s.handleBackupCreate)
		api.POST("/backup/restore", s.handleBackupRestore)

		api.GET("/sync", s.handleSyncStatus)
		api.POST("/sync", s.handleSyncNow)
		api.POST("/sync/restore", s.handleSyncRestore)
	}
	if tabs != nil {
		router.GET("/ws", gin.WrapH(tabs))
	}
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx ends
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("Control API listening", "addr", addr)

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
