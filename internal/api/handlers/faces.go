package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/gallery/internal/facedir"
	"github.com/your-org/gallery/pkg/dto"
)

// Sessions issues and reads the face session cookie.
type Sessions interface {
	FaceSource
	Issue(c *gin.Context, faceID string) (time.Time, error)
	Clear(c *gin.Context)
}

type FaceHandler struct {
	dir        facedir.Directory
	sessions   Sessions
	collection string
	threshold  float64
	maxBytes   int64
}

func NewFaceHandler(dir facedir.Directory, sessions Sessions, collection string, threshold float64, maxBytes int64) *FaceHandler {
	return &FaceHandler{
		dir:        dir,
		sessions:   sessions,
		collection: collection,
		threshold:  threshold,
		maxBytes:   maxBytes,
	}
}

// Register handles POST /v1/faces with a multipart "image" selfie. A face
// already in the collection is reused; otherwise the selfie is indexed.
func (h *FaceHandler) Register(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if h.maxBytes > 0 && file.Size > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read image"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read image"})
		return
	}
	if err := facedir.ValidateImage(data, h.maxBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	faceID, reused := "", false

	candidates, err := h.dir.SearchFaces(ctx, h.collection, data, h.threshold, 1)
	switch {
	case errors.Is(err, facedir.ErrNoFaceDetected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face detected in the image"})
		return
	case err != nil && !facedir.IsContentError(err):
		slog.Error("face search failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "face service unavailable"})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case len(candidates) > 0:
		faceID, reused = candidates[0].FaceID, true
	}

	if faceID == "" {
		ids, err := h.dir.IndexFaces(ctx, h.collection, data, "", 1)
		switch {
		case errors.Is(err, facedir.ErrNoFaceDetected), err == nil && len(ids) == 0:
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face detected in the image"})
			return
		case err != nil:
			slog.Error("face index failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "face service unavailable"})
			return
		}
		faceID = ids[0]
	}

	exp, err := h.sessions.Issue(c, faceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.RegisterFaceResponse{Success: true, Reused: reused, ExpiresAt: exp})
}

// Status handles GET /v1/faces/me.
func (h *FaceHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, dto.FaceStatusResponse{Registered: h.sessions.FaceID(c) != ""})
}

// Forget handles DELETE /v1/faces.
func (h *FaceHandler) Forget(c *gin.Context) {
	h.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}
