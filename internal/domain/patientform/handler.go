package patientform

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/avc/patientforms/internal/screen"
	"github.com/avc/patientforms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patient-forms")
	g.GET("", h.ListPatientForms)
	g.POST("", h.CreatePatientForm)
	g.GET("/_columns", h.GetColumns)
	g.POST("/_delete", h.DeletePatientForms)
	g.GET("/:id", h.GetPatientForm)
	g.PUT("/:id", h.UpdatePatientForm)
	g.DELETE("/:id", h.DeletePatientForm)
}

func (h *Handler) CreatePatientForm(c echo.Context) error {
	var f PatientForm
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatientForm(c.Request().Context(), screen.OwnerFrom(c), &f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) GetPatientForm(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	f, err := h.svc.GetPatientForm(c.Request().Context(), screen.OwnerFrom(c), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "patient form not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) ListPatientForms(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatientForms(c.Request().Context(), screen.OwnerFrom(c), pg.Limit, pg.Offset())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*PatientForm{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdatePatientForm(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var f PatientForm
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f.ID = id
	if err := h.svc.UpdatePatientForm(c.Request().Context(), screen.OwnerFrom(c), &f); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "patient form not found")
		case errors.Is(err, ErrForbidden):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		case errors.Is(err, ErrVersionConflict):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) DeletePatientForm(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if _, err := h.svc.DeletePatientForms(c.Request().Context(), screen.OwnerFrom(c), []string{id.String()}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

// DeletePatientForms is the batch endpoint. Deleting forms that are already
// gone is not an error.
func (h *Handler) DeletePatientForms(c echo.Context) error {
	var req deleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.DeletePatientForms(c.Request().Context(), screen.OwnerFrom(c), req.IDs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) GetColumns(c echo.Context) error {
	return c.JSON(http.StatusOK, Columns())
}
