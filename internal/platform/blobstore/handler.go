package blobstore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// TokenVerifier checks a download token and returns the artifact ID it
// grants access to. downloadtoken.Signer satisfies it.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// BlobHandler serves stored export artifacts over HTTP. Every route requires
// a ?token= issued for the artifact being addressed.
type BlobHandler struct {
	store    BlobStore
	verifier TokenVerifier
}

func NewBlobHandler(store BlobStore, verifier TokenVerifier) *BlobHandler {
	return &BlobHandler{store: store, verifier: verifier}
}

func (h *BlobHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/exports/:id/metadata", h.handleGetMetadata)
	g.GET("/exports/:id", h.handleDownload)
	g.DELETE("/exports/:id", h.handleDelete)
}

func (h *BlobHandler) authorize(c echo.Context) (string, error) {
	id := c.Param("id")
	token := c.QueryParam("token")
	if token == "" {
		return "", c.JSON(http.StatusUnauthorized, map[string]string{"error": "download token is required"})
	}
	granted, err := h.verifier.Verify(token)
	if err != nil || granted != id {
		return "", c.JSON(http.StatusForbidden, map[string]string{"error": "download token is not valid for this artifact"})
	}
	return id, nil
}

func (h *BlobHandler) handleDownload(c echo.Context) error {
	id, err := h.authorize(c)
	if id == "" {
		return err
	}

	rc, meta, err := h.store.Download(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, meta.FileName))
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *BlobHandler) handleGetMetadata(c echo.Context) error {
	id, err := h.authorize(c)
	if id == "" {
		return err
	}

	meta, err := h.store.GetMetadata(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, meta)
}

func (h *BlobHandler) handleDelete(c echo.Context) error {
	id, err := h.authorize(c)
	if id == "" {
		return err
	}

	if err := h.store.Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.NoContent(http.StatusNoContent)
}
