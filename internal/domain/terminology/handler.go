package terminology

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/radiology/internal/platform/apperr"
	"github.com/ehr/radiology/internal/platform/auth"
)

// Handler provides REST endpoints for the controlled vocabulary.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Name identifies the module in the route registry.
func (h *Handler) Name() string { return "terminology" }

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/terminology", auth.RequireRole(auth.ReadRoles...))
	read.GET("/sources", h.ListSources)
	read.GET("/sources/:source/terms/:code", h.LookupTerm)
	read.GET("/terms", h.SearchTerms)
	read.GET("/terms/:id", h.GetTerm)

	write := api.Group("/terminology", auth.RequireRole(auth.WriteRoles...))
	write.POST("/sources", h.CreateSource)
	write.POST("/terms", h.CreateTerm)
}

func getLimit(c echo.Context) int {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return limit
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.PublicMessage(err)).SetInternal(err)
}

// LookupTerm handles GET /api/v1/terminology/sources/:source/terms/:code.
func (h *Handler) LookupTerm(c echo.Context) error {
	t, err := h.svc.GetTermByCode(c.Request().Context(), c.Param("source"), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	if t == nil {
		return echo.NewHTTPError(http.StatusNotFound, "reference term not found")
	}
	return c.JSON(http.StatusOK, t)
}

// SearchTerms handles GET /api/v1/terminology/terms?q=...
func (h *Handler) SearchTerms(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
	}
	terms, err := h.svc.SearchTerms(c.Request().Context(), query, getLimit(c))
	if err != nil {
		return httpError(err)
	}
	if terms == nil {
		terms = []*ReferenceTerm{}
	}
	return c.JSON(http.StatusOK, terms)
}

func (h *Handler) GetTerm(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTerm(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListSources(c echo.Context) error {
	sources, err := h.svc.ListSources(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if sources == nil {
		sources = []*ConceptSource{}
	}
	return c.JSON(http.StatusOK, sources)
}

func (h *Handler) CreateSource(c echo.Context) error {
	var src ConceptSource
	if err := c.Bind(&src); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateSource(c.Request().Context(), &src); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, src)
}

func (h *Handler) CreateTerm(c echo.Context) error {
	var t ReferenceTerm
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateTerm(c.Request().Context(), &t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}
