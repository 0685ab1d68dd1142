package views

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GrainArc/LayerSync/methods"
	"github.com/GrainArc/LayerSync/models"
	"github.com/GrainArc/LayerSync/services"
)

// LayerService is what the HTTP surface needs from services.LayerService.
type LayerService interface {
	CreateLayer(ctx context.Context, meta models.LayerMeta, opts models.ColumnOptions, archivePath string) (*models.Layer, services.ProjectionStatus, error)
	UpdateLayer(ctx context.Context, layerID uuid.UUID, opts models.ColumnOptions, archivePath string, deleteUnmatched bool) (*services.UpdateReport, error)
	DeleteLayer(ctx context.Context, layerID uuid.UUID) (services.DeletionReport, error)
	SetVisibility(ctx context.Context, layerID uuid.UUID, hidden bool) error
	AddPicture(ctx context.Context, areaID uuid.UUID, upload services.PictureUpload) (*models.Picture, error)
	InvalidateCache(ctx context.Context, layerID uuid.UUID, bbox *models.BoundingBox, areaIDs []uuid.UUID) error
}

type LayerHandler struct {
	layers    LayerService
	uploadDir string
	log       *zap.Logger
}

// NewLayerHandler keeps uploaded archives below uploadDir while they are
// processed; an empty uploadDir uses the system temp directory.
func NewLayerHandler(layers LayerService, uploadDir string, log *zap.Logger) *LayerHandler {
	return &LayerHandler{layers: layers, uploadDir: uploadDir, log: log.Named("http")}
}

type layerResponse struct {
	ID          uuid.UUID                 `json:"id"`
	Name        string                    `json:"name"`
	ColorCode   *string                   `json:"colorCode,omitempty"`
	Description *string                   `json:"description,omitempty"`
	IsHidden    bool                      `json:"isHidden"`
	ColOptions  models.ColumnOptions      `json:"colOptions"`
	Published   services.ProjectionStatus `json:"published"`
}

// CreateLayer imports an uploaded archive as a new layer and publishes it.
func (h *LayerHandler) CreateLayer(c *gin.Context) {
	opts, ok := h.bindColumnOptions(c)
	if !ok {
		return
	}
	archive, cleanup, ok := h.saveArchive(c)
	if !ok {
		return
	}
	defer cleanup()

	meta := models.LayerMeta{
		Name:        strings.TrimSpace(c.PostForm("name")),
		ColorCode:   optionalForm(c, "colorCode"),
		Symbol:      optionalForm(c, "symbol"),
		Description: optionalForm(c, "description"),
		IsHidden:    formBool(c, "hidden"),
	}
	layer, status, err := h.layers.CreateLayer(c.Request.Context(), meta, opts, archive)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, layerResponse{
		ID:          layer.ID,
		Name:        layer.Name,
		ColorCode:   layer.ColorCode,
		Description: layer.Description,
		IsHidden:    layer.IsHidden,
		ColOptions:  layer.ColOptions,
		Published:   status,
	})
}

// UpdateAreas reconciles the stored areas of a layer with an uploaded archive.
func (h *LayerHandler) UpdateAreas(c *gin.Context) {
	layerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	opts, ok := h.bindColumnOptions(c)
	if !ok {
		return
	}
	archive, cleanup, ok := h.saveArchive(c)
	if !ok {
		return
	}
	defer cleanup()

	report, err := h.layers.UpdateLayer(c.Request.Context(), layerID, opts, archive, formBool(c, "deleteUnmatched"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// DeleteLayer removes a layer, its areas and its published artifacts.
func (h *LayerHandler) DeleteLayer(c *gin.Context) {
	layerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	report, err := h.layers.DeleteLayer(c.Request.Context(), layerID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": report.Succeeded(), "report": report})
}

type visibilityRequest struct {
	Hidden *bool `json:"hidden" binding:"required"`
}

// SetVisibility hides or shows a layer.
func (h *LayerHandler) SetVisibility(c *gin.Context) {
	layerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.layers.SetVisibility(c.Request.Context(), layerID, *req.Hidden); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": layerID, "isHidden": *req.Hidden})
}

type invalidateRequest struct {
	BBox    *models.BoundingBox `json:"bbox"`
	AreaIDs []uuid.UUID         `json:"areaIds"`
}

// InvalidateCache truncates the cached tiles of a layer.
func (h *LayerHandler) InvalidateCache(c *gin.Context) {
	layerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req invalidateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := h.layers.InvalidateCache(c.Request.Context(), layerID, req.BBox, req.AreaIDs); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// AddPicture stores a photo of an area in the layer bucket.
func (h *LayerHandler) AddPicture(c *gin.Context) {
	areaID, ok := pathID(c, "id")
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer file.Close()

	picture, err := h.layers.AddPicture(c.Request.Context(), areaID, services.PictureUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Name:        optionalForm(c, "name"),
		Body:        file,
		Size:        header.Size,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, picture)
}

func (h *LayerHandler) bindColumnOptions(c *gin.Context) (models.ColumnOptions, bool) {
	var opts models.ColumnOptions
	raw := c.PostForm("colOptions")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "colOptions is required"})
		return opts, false
	}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "colOptions: " + err.Error()})
		return opts, false
	}
	return opts, true
}

// saveArchive stores the uploaded "file" part on disk for the reconciler.
func (h *LayerHandler) saveArchive(c *gin.Context) (string, func(), bool) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return "", nil, false
	}
	dir, err := os.MkdirTemp(h.uploadDir, "upload-")
	if err != nil {
		h.fail(c, services.ErrStorage.Wrap(err))
		return "", nil, false
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			h.log.Warn("remove upload", zap.String("dir", dir), zap.Error(err))
		}
	}
	path := filepath.Join(dir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, path); err != nil {
		cleanup()
		h.fail(c, services.ErrStorage.Wrap(err))
		return "", nil, false
	}
	return path, cleanup, true
}

// fail writes err with the status its class maps to.
func (h *LayerHandler) fail(c *gin.Context, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusOf maps service error classes to HTTP status codes.
func StatusOf(err error) int {
	switch {
	case services.ErrValidation.Has(err):
		return http.StatusBadRequest
	case services.ErrNotFound.Has(err):
		return http.StatusNotFound
	case methods.ErrLocked.Has(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func optionalForm(c *gin.Context, key string) *string {
	v, ok := c.GetPostForm(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return nil
	}
	return &v
}

func formBool(c *gin.Context, key string) bool {
	b, _ := strconv.ParseBool(c.PostForm(key))
	return b
}
