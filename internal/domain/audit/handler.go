package audit

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/auditledger/auditledger/internal/platform/auth"
	"github.com/auditledger/auditledger/pkg/pagination"
)

// ErrSearchUnavailable is returned when no relational mirror is configured.
var ErrSearchUnavailable = errors.New("audit search requires a database mirror")

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	write := api.Group("", auth.RequireRole(auth.RoleWriter, auth.RoleAdmin))
	write.POST("/audit/:channel/events", h.AppendEvent)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/audit/channels", h.ListChannels)
	admin.GET("/audit/events", h.SearchEvents)
	admin.GET("/audit/:channel/verify", h.VerifyChannel)
	admin.GET("/audit/:channel/stats", h.ChannelStats)
	admin.POST("/audit/:channel/rotate", h.RotateChannel)
}

// AppendEvent appends one event to the channel's chain. The HTTP status is
// 202 even when the durable write failed: the append outcome is carried in
// the body, and the caller decides whether to inspect it.
func (h *Handler) AppendEvent(c echo.Context) error {
	var req AppendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Operation == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "operation is required")
	}

	result := h.svc.Append(c.Request().Context(), c.Param("channel"), &req)
	return c.JSON(http.StatusAccepted, result)
}

func (h *Handler) VerifyChannel(c echo.Context) error {
	result, err := h.svc.Verify(c.Request().Context(), c.Param("channel"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ChannelStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Param("channel"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) ListChannels(c echo.Context) error {
	channels, err := h.svc.Channels()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if channels == nil {
		channels = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{"channels": channels})
}

func (h *Handler) RotateChannel(c echo.Context) error {
	archive, err := h.svc.Rotate(c.Param("channel"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"archived_to": archive})
}

func (h *Handler) SearchEvents(c echo.Context) error {
	var params SearchParams
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid search parameters")
	}

	pg := pagination.FromContext(c)
	records, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		if errors.Is(err, ErrSearchUnavailable) {
			return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if records == nil {
		records = []*MirrorRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(records, total, pg.Limit, pg.Offset))
}
