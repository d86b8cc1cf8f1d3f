package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/services"
)

// SearchHandler handles HTTP requests for trip search
type SearchHandler struct {
	aggregator *services.SearchAggregator
	logger     *logrus.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(aggregator *services.SearchAggregator, logger *logrus.Logger) *SearchHandler {
	return &SearchHandler{
		aggregator: aggregator,
		logger:     logger,
	}
}

// SearchTrips handles POST /api/v1/search
// @Summary Search trips across every travel provider
// @Tags Search
// @Accept json
// @Produce json
// @Param search body models.SearchRequest true "Search parameters"
// @Success 200 {object} models.SearchResult
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 502 {object} map[string]interface{} "All providers failed"
// @Router /api/v1/search [post]
func (h *SearchHandler) SearchTrips(c *gin.Context) {
	var req models.SearchRequest
	// an empty body is an unfiltered search
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.WithError(err).Warn("Invalid search request")
			badRequest(c, "Invalid request format: "+err.Error())
			return
		}
	}

	params, err := req.ToParams()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	result, err := h.aggregator.Search(c.Request.Context(), params)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
