package hipaa

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/avc/patientforms/pkg/pagination"
)

// DisclosureHandler serves the accounting of export disclosures.
type DisclosureHandler struct {
	store *DisclosureStore
}

func NewDisclosureHandler(store *DisclosureStore) *DisclosureHandler {
	return &DisclosureHandler{store: store}
}

func (h *DisclosureHandler) RegisterRoutes(api *echo.Group) {
	api.GET("/disclosures", h.HandleListDisclosures)
	api.GET("/patient-forms/:id/disclosures", h.HandleListRecordDisclosures)
}

// HandleListDisclosures handles GET /api/v1/disclosures?limit=&page=.
func (h *DisclosureHandler) HandleListDisclosures(c echo.Context) error {
	pg := pagination.FromContext(c)
	disclosures, total := h.store.ListAll(pg.Limit, pg.Offset())
	return c.JSON(http.StatusOK, pagination.NewResponse(disclosures, total, pg))
}

// HandleListRecordDisclosures handles GET /api/v1/patient-forms/:id/disclosures.
func (h *DisclosureHandler) HandleListRecordDisclosures(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing record id")
	}
	disclosures := h.store.ListByRecord(id)
	if disclosures == nil {
		disclosures = []*Disclosure{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":      disclosures,
		"record_id": id,
		"total":     len(disclosures),
	})
}
