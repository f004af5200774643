package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dori/taskgate/internal/backup"
	"github.com/dori/taskgate/internal/gate"
	"github.com/dori/taskgate/internal/model"
	"github.com/dori/taskgate/internal/registry"
	"github.com/dori/taskgate/internal/syncstore"
)

const maxBodySize = 4 << 20

func respond(c *gin.Context, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["ok"] = true
	c.JSON(http.StatusOK, body)
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"ok": false, "error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gate.ErrTaskNotFound),
		errors.Is(err, gate.ErrNotBlocked),
		errors.Is(err, registry.ErrGroupNotFound),
		errors.Is(err, registry.ErrUnknownSite),
		errors.Is(err, backup.ErrNoBackup),
		errors.Is(err, syncstore.ErrNoSnapshot):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrGroupConflict):
		return http.StatusConflict
	case errors.Is(err, gate.ErrRequirementNotMet):
		return http.StatusForbidden
	case errors.Is(err, gate.ErrJustificationTooShort),
		errors.Is(err, gate.ErrInvalidDuration),
		errors.Is(err, gate.ErrEmptyTask),
		errors.Is(err, gate.ErrInvalidRecurrence),
		errors.Is(err, gate.ErrInvalidDueDate),
		errors.Is(err, registry.ErrInvalidDomain),
		errors.Is(err, registry.ErrEmptyGroup),
		errors.Is(err, registry.ErrInvalidCost),
		errors.Is(err, backup.ErrNoRemote),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("invalid request body")

// bind decodes the JSON body into dst
func bind(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, errors.Join(errBadRequest, err))
		return false
	}
	return true
}

func (s *Server) handleState(c *gin.Context) {
	view, err := s.gate.State(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"state": view})
}

type tasksRequest struct {
	Tasks []model.Task `json:"tasks"`
}

func (s *Server) handleUpdateTasks(c *gin.Context) {
	var req tasksRequest
	if !bind(c, &req) {
		return
	}
	tasks, err := s.gate.UpdateTasks(c.Request.Context(), req.Tasks)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"tasks": tasks})
}

func (s *Server) handleAddTask(c *gin.Context) {
	var req gate.NewTask
	if !bind(c, &req) {
		return
	}
	task, err := s.gate.AddTask(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"task": task})
}

func (s *Server) handleToggleTask(c *gin.Context) {
	task, err := s.gate.ToggleTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"task": task})
}

func (s *Server) handleEditTask(c *gin.Context) {
	var req gate.TaskPatch
	if !bind(c, &req) {
		return
	}
	task, err := s.gate.EditTask(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"task": task})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.gate.DeleteTask(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	respond(c, nil)
}

type siteRequest struct {
	Site string `json:"site"`
}

func (s *Server) handleAddSite(c *gin.Context) {
	var req siteRequest
	if !bind(c, &req) {
		return
	}
	site, err := s.gate.AddSite(c.Request.Context(), req.Site)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"site": site})
}

func (s *Server) handleRemoveSite(c *gin.Context) {
	if err := s.gate.RemoveSite(c.Request.Context(), c.Param("site")); err != nil {
		fail(c, err)
		return
	}
	respond(c, nil)
}

func (s *Server) handleSiteSettings(c *gin.Context) {
	var req registry.SettingsPatch
	if !bind(c, &req) {
		return
	}
	settings, err := s.gate.UpdateSiteSettings(c.Request.Context(), c.Param("site"), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"settings": settings})
}

func (s *Server) handleUnlock(c *gin.Context) {
	var req siteRequest
	if !bind(c, &req) {
		return
	}
	rec, err := s.gate.Unlock(c.Request.Context(), req.Site)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"unlock": rec})
}

type pauseRequest struct {
	Site          string `json:"site"`
	Minutes       int    `json:"minutes"`
	Justification string `json:"justification"`
}

func (s *Server) handlePause(c *gin.Context) {
	var req pauseRequest
	if !bind(c, &req) {
		return
	}
	rec, err := s.gate.Pause(c.Request.Context(), req.Site, req.Minutes, req.Justification)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"unlock": rec})
}

func (s *Server) handleRelock(c *gin.Context) {
	var req siteRequest
	if !bind(c, &req) {
		return
	}
	if err := s.gate.Relock(c.Request.Context(), req.Site); err != nil {
		fail(c, err)
		return
	}
	respond(c, nil)
}

func (s *Server) handleConfig(c *gin.Context) {
	var req model.ConfigPatch
	if !bind(c, &req) {
		return
	}
	cfg, err := s.gate.UpdateConfig(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"config": cfg})
}

func (s *Server) handleAddGroup(c *gin.Context) {
	var req registry.GroupInput
	if !bind(c, &req) {
		return
	}
	grp, err := s.gate.AddGroup(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"group": grp})
}

func (s *Server) handleUpdateGroup(c *gin.Context) {
	var req registry.GroupInput
	if !bind(c, &req) {
		return
	}
	grp, err := s.gate.UpdateGroup(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"group": grp})
}

func (s *Server) handleRemoveGroup(c *gin.Context) {
	if err := s.gate.RemoveGroup(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	respond(c, nil)
}

func (s *Server) handleBackupStatus(c *gin.Context) {
	status, err := s.backups.Status(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"status": status})
}

func (s *Server) handleBackupCreate(c *gin.Context) {
	entry, err := s.backups.Create(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"backup": gin.H{"id": entry.ID, "createdAt": entry.CreatedAt}})
}

func (s *Server) handleBackupRestore(c *gin.Context) {
	ctx := c.Request.Context()
	entry, err := s.backups.Restore(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.gate.Reload(ctx); err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"backup": gin.H{"id": entry.ID, "createdAt": entry.CreatedAt}})
}

func (s *Server) handleSyncStatus(c *gin.Context) {
	status, err := s.backups.RemoteStatus(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, gin.H{"status": status})
}

func (s *Server) handleSyncNow(c *gin.Context) {
	if err := s.backups.Push(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	respond(c, nil)
}

func (s *Server) handleSyncRestore(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.backups.RestoreRemote(ctx); err != nil {
		fail(c, err)
		return
	}
	if err := s.gate.Reload(ctx); err != nil {
		fail(c, err)
		return
	}
	respond(c, nil)
}
