// Package v1 exposes the read-only KPI query API. It is a thin read of
// committed KPI rows; all computation happens in the processing engine.
package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	httperr "github.com/offspot-lab/offspot-metrics/internal/core/errors"
	"github.com/offspot-lab/offspot-metrics/internal/core/period"
	"github.com/offspot-lab/offspot-metrics/internal/core/storage"
)

// Service serves the query endpoints over a storage reader.
type Service struct {
	reader storage.Reader
}

func NewService(reader storage.Reader) *Service {
	return &Service{reader: reader}
}

// RegisterRoutes registers the query API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/aggregations", s.HandleListAggregations)
	r.GET("/v1/aggregations/:agg_kind", s.HandleAggregationsByKind)
	r.GET("/v1/kpis/:kpi_id/values", s.HandleKPIValue)
}

type aggregationsResponse struct {
	Aggregations []storage.Aggregation `json:"aggregations"`
}

// HandleListAggregations handles GET /v1/aggregations.
func (s *Service) HandleListAggregations(c *gin.Context) {
	aggregations, err := s.reader.ListAggregations(c.Request.Context())
	if err != nil {
		internalError(c, "Failed to list aggregations", err)
		return
	}
	if aggregations == nil {
		aggregations = []storage.Aggregation{}
	}
	c.JSON(http.StatusOK, aggregationsResponse{Aggregations: aggregations})
}

type kpiValueEntry struct {
	AggValue string          `json:"agg_value"`
	KPIValue json.RawMessage `json:"kpi_value"`
}

type kpiEntries struct {
	KPIID  int             `json:"kpi_id"`
	Values []kpiValueEntry `json:"values"`
}

type aggregationsByKindResponse struct {
	AggKind string       `json:"agg_kind"`
	Values  []string     `json:"values"`
	KPIs    []kpiEntries `json:"kpis"`
}

// HandleAggregationsByKind handles GET /v1/aggregations/:agg_kind.
func (s *Service) HandleAggregationsByKind(c *gin.Context) {
	kind, err := period.ParseAggKind(c.Param("agg_kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidParamError,
			Message:   "Invalid aggregation kind",
			Details:   err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	values, err := s.reader.GetAggregationValues(ctx, kind)
	if err != nil {
		internalError(c, "Failed to load aggregation values", err)
		return
	}

	rows, err := s.reader.GetKPIValuesByKind(ctx, kind)
	if err != nil {
		internalError(c, "Failed to load kpi values", err)
		return
	}

	response := aggregationsByKindResponse{
		AggKind: string(kind),
		Values:  values,
		KPIs:    []kpiEntries{},
	}
	if response.Values == nil {
		response.Values = []string{}
	}
	// Rows arrive sorted by (kpi_id, agg_value); group them per KPI.
	for _, row := range rows {
		if len(response.KPIs) == 0 || response.KPIs[len(response.KPIs)-1].KPIID != row.KPIID {
			response.KPIs = append(response.KPIs, kpiEntries{KPIID: row.KPIID})
		}
		last := &response.KPIs[len(response.KPIs)-1]
		last.Values = append(last.Values, kpiValueEntry{
			AggValue: row.AggValue,
			KPIValue: json.RawMessage(row.Value),
		})
	}

	c.JSON(http.StatusOK, response)
}

type kpiValueResponse struct {
	KPIID int             `json:"kpi_id"`
	Value json.RawMessage `json:"value"`
}

// HandleKPIValue handles GET /v1/kpis/:kpi_id/values?agg_kind=…&agg_value=…
func (s *Service) HandleKPIValue(c *gin.Context) {
	kpiID, err := strconv.Atoi(c.Param("kpi_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidParamError,
			Message:   "Invalid kpi id",
		})
		return
	}

	var query struct {
		AggKind  string `form:"agg_kind" binding:"required"`
		AggValue string `form:"agg_value" binding:"required"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidParamError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	kind, err := period.ParseAggKind(query.AggKind)
	if err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidParamError,
			Message:   "Invalid aggregation kind",
			Details:   err.Error(),
		})
		return
	}

	value, err := s.reader.GetKPIValue(c.Request.Context(), kpiID, kind, query.AggValue)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotFoundError,
			Message:   "No value for this kpi and aggregation",
		})
		return
	}
	if err != nil {
		internalError(c, "Failed to load kpi value", err)
		return
	}

	c.JSON(http.StatusOK, kpiValueResponse{
		KPIID: kpiID,
		Value: json.RawMessage(value),
	})
}

// internalError hides details from clients; the error goes to the log only.
func internalError(c *gin.Context, message string, err error) {
	slog.Error(message, "error", err)
	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   message,
	})
}
