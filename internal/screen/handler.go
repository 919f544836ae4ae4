package screen

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Identity headers set by the upstream gateway.
const (
	HeaderUserID    = "X-User-ID"
	HeaderSuperuser = "X-Superuser"
)

// OwnerFrom reads the caller identity from the request headers.
func OwnerFrom(c echo.Context) Owner {
	su, _ := strconv.ParseBool(c.Request().Header.Get(HeaderSuperuser))
	return Owner{
		UserID:    c.Request().Header.Get(HeaderUserID),
		Superuser: su,
	}
}

// Handler exposes screen sessions over HTTP.
type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes mounts the session routes. exportMW guards only the export
// route, which materialises a whole artifact per call.
func (h *Handler) RegisterRoutes(api *echo.Group, exportMW ...echo.MiddlewareFunc) {
	g := api.Group("/screens")
	g.POST("", h.Mount)
	g.GET("/:sid", h.View)
	g.DELETE("/:sid", h.Unmount)
	g.PUT("/:sid/selection", h.SetSelection)
	g.PUT("/:sid/page", h.SetPage)
	g.PUT("/:sid/page-size", h.SetPageSize)
	g.POST("/:sid/deletion", h.RequestDeletion)
	g.POST("/:sid/deletion/agree", h.AgreeDeletion)
	g.POST("/:sid/deletion/refuse", h.RefuseDeletion)
	g.POST("/:sid/export", h.Export, exportMW...)
	g.GET("/:sid/edit/:id", h.Edit)
	g.POST("/:sid/new", h.New)
}

func await(c echo.Context, done <-chan struct{}) error {
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-c.Request().Context().Done():
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled while fetching")
	}
}

func (h *Handler) load(c echo.Context) (*Screen, error) {
	s, done, err := h.registry.Get(c.Request().Context(), c.Param("sid"), OwnerFrom(c))
	if err != nil {
		return nil, mapError(err)
	}
	if err := await(c, done); err != nil {
		return nil, err
	}
	return s, nil
}

func (h *Handler) persistAndView(c echo.Context, s *Screen, status int) error {
	if err := h.registry.Persist(c.Request().Context(), s); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to persist screen state")
	}
	return c.JSON(status, s.View())
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRecordNotLoaded):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidPage),
		errors.Is(err, ErrInvalidPageSize),
		errors.Is(err, ErrUnknownProfile),
		errors.Is(err, ErrUnknownFormat),
		errors.Is(err, ErrInvalidPurpose),
		errors.Is(err, ErrUnknownRecord):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDeletionPending),
		errors.Is(err, ErrNoPendingRequest):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNothingToDelete),
		errors.Is(err, ErrEmptySelection),
		errors.Is(err, ErrNilValue),
		errors.Is(err, ErrUnsupportedValue),
		errors.Is(err, ErrMissingColumn):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// Mount handles POST /api/v1/screens.
func (h *Handler) Mount(c echo.Context) error {
	s, done, err := h.registry.Mount(c.Request().Context(), OwnerFrom(c))
	if err != nil {
		return mapError(err)
	}
	if err := await(c, done); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, s.View())
}

// View handles GET /api/v1/screens/:sid.
func (h *Handler) View(c echo.Context) error {
	s, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.View())
}

// Unmount handles DELETE /api/v1/screens/:sid.
func (h *Handler) Unmount(c echo.Context) error {
	if err := h.registry.Unmount(c.Request().Context(), c.Param("sid"), OwnerFrom(c)); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type selectionRequest struct {
	IDs []string `json:"ids"`
}

// SetSelection handles PUT /api/v1/screens/:sid/selection.
func (h *Handler) SetSelection(c echo.Context) error {
	s, err := h.load(c)
	if err != nil {
		return err
	}
	var req selectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.Toggle(req.IDs); err != nil {
		return mapError(err)
	}
	return h.persistAndView(c, s, http.StatusOK)
}

type pageRequest struct {
	Page *int `json:"page"`
}

// SetPage handles PUT /api/v1/screens/:sid/page.
func (h *Handler) SetPage(c echo.Context) error {
	s, err := h.load(c)
	if err != nil {
		return err
	}
	var req pageRequest
	if err := c.Bind(&req); err != nil || req.Page == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "page is required")
	}
	done, err := s.Pagination.SetPage(c.Request().Context(), *req.Page)
	if err != nil {
		return mapError(err)
	}
	if err := await(c, done); err != nil {
		return err
	}
	return h.persistAndView(c, s, http.StatusOK)
}

type pageSizeRequest struct {
	Size int `json:"size"`
}

// SetPageSize handles PUT /api/v1/screens/:sid/page-size.
func (h *Handler) SetPageSize(c echo.Context) error {
	s, err := h.load(c)
	if err != nil {
		return err
	}
	var req pageSizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	done, err := s.Pagination.SetPageSize(c.Request().Context(), req.Size)
	if err != nil {
		return mapError(err)
	}
	if err := await(c, done); err != nil {
		return err
	}
	return h.persistAndView(c, s, http.StatusOK)
}

type deletionRequest struct {
	ID string `json:"id"`
}

// RequestDeletion handles POST /api/v1/screens/:sid/deletion. A body with an
// id targets that row; an empty body targets the selection.
func (h *Handler) RequestDeletion(c echo.Context) error {
	s, err := h.load(c)
	if err != nil {
		return err
	}
	var req deletionRequest
	// chunked requests report an unknown length; an empty one still means bulk
	if err := c.Bind(&req); err != nil && !errors.Is(err, io.EOF) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	dr := BulkDeletion()
	if req.ID != "" {
		dr = SingleDeletion(req.ID)
	}
	if err := s.RequestDeletion(dr); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, s.View())
}

// AgreeDeletion handles POST /api/v1/screens/:sid/deletion/agree. It waits
// for the store and the page refresh before answering.
func (h *Handler) AgreeDeletion(c echo.Context) error {
	s, err := h.load(c)
	if err != nil {
		return err
	}
	results, err := s.AgreeDeletion(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	if err := h.registry.Persist(c.Request().Context(), s); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to persist screen state")
	}

	var res DeletionResult
	select {
	case res = <-results:
	case <-c.Request().Context().Done():
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled while deleting")
	}

	body := map[string]interface{}{
		"deleted": res.IDs,
		"screen":  s.View(),
	}
	if res.Err != nil {
		body["error"] = "record store failed to delete"
		return c.JSON(http.StatusBadGateway, body)
	}
	return c.JSON(http.StatusOK, body)
}

// RefuseDeletion handles POST /api/v1/screens/:sid/deletion/refuse.
func (h *Handler) RefuseDeletion(c echo.Context) error {
	s, err := h.load(c)
	if err != nil {
		return err
	}
	s.Deletion.Refuse()
	return c.JSON(http.StatusOK, s.View())
}

type exportRequest struct {
	Profile string `json:"profile"`
	Format  string `json:"format"`
	Purpose string `json:"purpose"`
}

type exportResponse struct {
	*Artifact
	DownloadURL string `json:"download_url,omitempty"`
}

// Export handles POST /api/v1/screens/:sid/export.
func (h *Handler) Export(c echo.Context) error {
	s, err := h.load(c)
	if err != nil {
		return err
	}
	var req exportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	profile, err := ParseProfile(req.Profile)
	if err != nil {
		return mapError(err)
	}
	format, err := ParseFormat(req.Format)
	if err != nil {
		return mapError(err)
	}

	art, err := s.Export(c.Request().Context(), ExportRequest{
		Profile: profile,
		Format:  format,
		Actor:   s.Owner.UserID,
		Purpose: req.Purpose,
	})
	if err != nil {
		return mapError(err)
	}

	resp := exportResponse{Artifact: art}
	if art.Token != "" {
		resp.DownloadURL = "/api/v1/exports/" + art.ID + "?token=" + art.Token
	}
	return c.JSON(http.StatusCreated, resp)
}

// Edit handles GET /api/v1/screens/:sid/edit/:id.
func (h *Handler) Edit(c echo.Context) error {
	s, err := h.load(c)
	if err != nil {
		return err
	}
	target, err := s.EditTarget(c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, target)
}

// New handles POST /api/v1/screens/:sid/new.
func (h *Handler) New(c echo.Context) error {
	s, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.NewRecord())
}
