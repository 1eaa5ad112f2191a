package study

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/ehr/radiology/internal/platform/apperr"
	"github.com/ehr/radiology/internal/platform/auth"
)

// Handler exposes radiology studies over REST.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Name identifies the module in the route registry.
func (h *Handler) Name() string { return "radiology-studies" }

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/radiology-studies", auth.RequireRole(auth.ReadRoles...))
	read.GET("", h.ListByOrders)
	read.GET("/:id", h.GetStudy)
	read.GET("/:id/dicom", h.GetDicomAttributes)
	read.GET("/uuid/:uuid", h.GetStudyByUUID)
	read.GET("/order/:orderId", h.GetStudyByOrder)
	read.GET("/uid/:uid", h.GetStudyByUID)

	write := api.Group("/radiology-studies", auth.RequireRole(auth.WriteRoles...))
	write.POST("", h.CreateStudy)
	write.PUT("/uid/:uid/performed-status", h.UpdatePerformedStatus)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.PublicMessage(err)).SetInternal(err)
}

func parseInt64(c echo.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}

func respondStudy(c echo.Context, st *RadiologyStudy, err error) error {
	if err != nil {
		return httpError(err)
	}
	if st == nil {
		return echo.NewHTTPError(http.StatusNotFound, "radiology study not found")
	}
	return c.JSON(http.StatusOK, st)
}

type createRequest struct {
	OrderID          int64  `json:"order_id"`
	StudyInstanceUID string `json:"study_instance_uid"`
	PerformedStatus  string `json:"performed_status"`
}

// CreateStudy handles POST /api/v1/radiology-studies. The Study Instance
// UID is generated unless the request supplies one.
func (h *Handler) CreateStudy(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	st := &RadiologyStudy{OrderID: req.OrderID, StudyInstanceUID: req.StudyInstanceUID}
	if req.PerformedStatus != "" {
		status, ok := ParseStatus(req.PerformedStatus)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown performed status")
		}
		st.PerformedStatus = status
	}
	saved, err := h.svc.SaveStudy(c.Request().Context(), st)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, saved)
}

func (h *Handler) GetStudy(c echo.Context) error {
	id, err := parseInt64(c, "id")
	if err != nil {
		return err
	}
	st, err := h.svc.GetStudy(c.Request().Context(), id)
	return respondStudy(c, st, err)
}

func (h *Handler) GetStudyByUUID(c echo.Context) error {
	st, err := h.svc.GetStudyByUUID(c.Request().Context(), c.Param("uuid"))
	return respondStudy(c, st, err)
}

func (h *Handler) GetStudyByOrder(c echo.Context) error {
	orderID, err := parseInt64(c, "orderId")
	if err != nil {
		return err
	}
	st, err := h.svc.GetStudyByOrderID(c.Request().Context(), orderID)
	return respondStudy(c, st, err)
}

func (h *Handler) GetStudyByUID(c echo.Context) error {
	st, err := h.svc.GetStudyByStudyInstanceUID(c.Request().Context(), c.Param("uid"))
	return respondStudy(c, st, err)
}

// ListByOrders handles GET /api/v1/radiology-studies?order_id=1,2.
func (h *Handler) ListByOrders(c echo.Context) error {
	var ids []int64
	for _, raw := range strings.Split(c.QueryParam("order_id"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid order_id "+raw)
		}
		ids = append(ids, id)
	}
	items, err := h.svc.GetStudiesByOrders(c.Request().Context(), ids)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdatePerformedStatus handles PUT /api/v1/radiology-studies/uid/:uid/performed-status.
func (h *Handler) UpdatePerformedStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	status := PerformedProcedureStepStatus(req.Status)
	if parsed, ok := ParseStatus(req.Status); ok {
		status = parsed
	}
	st, err := h.svc.UpdatePerformedStatus(c.Request().Context(), c.Param("uid"), status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

type dicomAttribute struct {
	Tag     string   `json:"tag"`
	Keyword string   `json:"keyword,omitempty"`
	VR      string   `json:"vr"`
	Value   []string `json:"value"`
}

// GetDicomAttributes handles GET /api/v1/radiology-studies/:id/dicom.
func (h *Handler) GetDicomAttributes(c echo.Context) error {
	id, err := parseInt64(c, "id")
	if err != nil {
		return err
	}
	st, err := h.svc.GetStudy(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if st == nil {
		return echo.NewHTTPError(http.StatusNotFound, "radiology study not found")
	}
	elems, err := DicomAttributes(st)
	if err != nil {
		return httpError(err)
	}

	out := make([]dicomAttribute, 0, len(elems))
	for _, e := range elems {
		attr := dicomAttribute{Tag: e.Tag.String(), VR: e.RawValueRepresentation}
		if info, err := tag.Find(e.Tag); err == nil {
			attr.Keyword = info.Name
		}
		if values, ok := e.Value.GetValue().([]string); ok {
			attr.Value = values
		}
		out = append(out, attr)
	}
	return c.JSON(http.StatusOK, out)
}
