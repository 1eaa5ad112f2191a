package mrrt

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/radiology/internal/platform/apperr"
	"github.com/ehr/radiology/internal/platform/auth"
)

const maxTemplateBytes = 5 << 20

// Handler exposes report templates over REST.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Name identifies the module in the route registry.
func (h *Handler) Name() string { return "mrrt-templates" }

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/mrrt-templates", auth.RequireRole(auth.ReadRoles...))
	read.GET("", h.SearchTemplates)
	read.GET("/:id", h.GetTemplate)
	read.GET("/:id/body", h.GetHTMLBody)
	read.GET("/uuid/:uuid", h.GetTemplateByUUID)
	read.GET("/identifier/:identifier", h.GetTemplateByIdentifier)

	write := api.Group("/mrrt-templates", auth.RequireRole(auth.WriteRoles...))
	write.POST("", h.ImportTemplate)
	write.PUT("/:id", h.UpdateTemplate)
	write.DELETE("/:id", h.PurgeTemplate)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.PublicMessage(err)).SetInternal(err)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid template id")
	}
	return id, nil
}

// readUpload returns the template document from a multipart "file" field or
// from the raw request body.
func readUpload(c echo.Context) (string, error) {
	var r io.Reader = c.Request().Body
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		file, err := c.FormFile("file")
		if err != nil {
			return "", echo.NewHTTPError(http.StatusBadRequest, "file is required")
		}
		src, err := file.Open()
		if err != nil {
			return "", echo.NewHTTPError(http.StatusBadRequest, "failed to open uploaded file")
		}
		defer src.Close()
		r = src
	}
	data, err := io.ReadAll(io.LimitReader(r, maxTemplateBytes+1))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "failed to read template")
	}
	if len(data) > maxTemplateBytes {
		return "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, "template too large")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", echo.NewHTTPError(http.StatusBadRequest, "template is required")
	}
	return string(data), nil
}

// ImportTemplate handles POST /api/v1/mrrt-templates.
func (h *Handler) ImportTemplate(c echo.Context) error {
	src, err := readUpload(c)
	if err != nil {
		return err
	}
	t, err := h.svc.ImportTemplate(c.Request().Context(), src)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

// SearchTemplates handles GET /api/v1/mrrt-templates?title=...
func (h *Handler) SearchTemplates(c echo.Context) error {
	criteria := NewSearchCriteria().WithTitle(c.QueryParam("title")).Build()
	items, err := h.svc.SearchTemplates(c.Request().Context(), criteria)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetTemplate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTemplate(c.Request().Context(), id)
	return respondTemplate(c, t, err)
}

func (h *Handler) GetTemplateByUUID(c echo.Context) error {
	t, err := h.svc.GetTemplateByUUID(c.Request().Context(), c.Param("uuid"))
	return respondTemplate(c, t, err)
}

func (h *Handler) GetTemplateByIdentifier(c echo.Context) error {
	t, err := h.svc.GetTemplateByIdentifier(c.Request().Context(), c.Param("identifier"))
	return respondTemplate(c, t, err)
}

func respondTemplate(c echo.Context, t *ReportTemplate, err error) error {
	if err != nil {
		return httpError(err)
	}
	if t == nil {
		return echo.NewHTTPError(http.StatusNotFound, "report template not found")
	}
	return c.JSON(http.StatusOK, t)
}

// GetHTMLBody handles GET /api/v1/mrrt-templates/:id/body.
func (h *Handler) GetHTMLBody(c echo.Context) error {
	t, err := h.lookup(c)
	if err != nil {
		return err
	}
	body, err := h.svc.GetHTMLBody(c.Request().Context(), t)
	if err != nil {
		return httpError(err)
	}
	return c.HTML(http.StatusOK, body)
}

type updateRequest struct {
	DCTermsTitle       *string `json:"dcterms_title"`
	DCTermsDescription *string `json:"dcterms_description"`
	DCTermsLanguage    *string `json:"dcterms_language"`
	DCTermsPublisher   *string `json:"dcterms_publisher"`
	DCTermsRights      *string `json:"dcterms_rights"`
	DCTermsLicense     *string `json:"dcterms_license"`
	DCTermsCreator     *string `json:"dcterms_creator"`
}

func (r updateRequest) apply(t *ReportTemplate) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&t.DCTermsTitle, r.DCTermsTitle)
	set(&t.DCTermsDescription, r.DCTermsDescription)
	set(&t.DCTermsLanguage, r.DCTermsLanguage)
	set(&t.DCTermsPublisher, r.DCTermsPublisher)
	set(&t.DCTermsRights, r.DCTermsRights)
	set(&t.DCTermsLicense, r.DCTermsLicense)
	set(&t.DCTermsCreator, r.DCTermsCreator)
}

// UpdateTemplate handles PUT /api/v1/mrrt-templates/:id. Only descriptive
// metadata may change; the identifier and file stay fixed.
func (h *Handler) UpdateTemplate(c echo.Context) error {
	t, err := h.lookup(c)
	if err != nil {
		return err
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.apply(t)
	saved, err := h.svc.SaveTemplate(c.Request().Context(), t)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

// PurgeTemplate handles DELETE /api/v1/mrrt-templates/:id.
func (h *Handler) PurgeTemplate(c echo.Context) error {
	t, err := h.lookup(c)
	if err != nil {
		return err
	}
	if err := h.svc.PurgeTemplate(c.Request().Context(), t); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) lookup(c echo.Context) (*ReportTemplate, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	t, err := h.svc.GetTemplate(c.Request().Context(), id)
	if err != nil {
		return nil, httpError(err)
	}
	if t == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "report template not found")
	}
	return t, nil
}
