package ingest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IngestRequest mirrors one line of the runner's event log.
// @Description Forwarded runner event: emission timestamp, kind and payload
type IngestRequest struct {
	TS      time.Time       `json:"ts"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload" swaggertype:"object"`
} //@name IngestRequest

func RegisterRoutes(rg *gin.RouterGroup, db *gorm.DB) {
	store := NewStore(db)

	rg.POST("/ingest", ingestEvent(store))
	rg.GET("/events", listEvents(store))
	rg.GET("/events/stats", eventStats(store))
}

// IngestEvent accepts one forwarded runner event
// @Summary Ingest a forwarded runner event
// @Description Store a single runner event as posted by the log forwarder
// @Tags events
// @Accept json
// @Produce json
// @Param event body IngestRequest true "Forwarded event"
// @Success 202 {object} Event
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /ingest [post]
func ingestEvent(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Kind == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind is required"})
			return
		}
		if req.TS.IsZero() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ts is required"})
			return
		}

		payload := req.Payload
		if len(payload) == 0 {
			payload = []byte("{}")
		}

		ev := Event{
			Kind:    req.Kind,
			TS:      req.TS.UTC(),
			Payload: datatypes.JSON(payload),
		}
		if err := store.CreateEvent(c.Request.Context(), &ev); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, ev)
	}
}

// ListEvents lists stored events with optional filtering
// @Summary List ingested events
// @Description Get stored runner events filtered by kind and time range
// @Tags events
// @Accept json
// @Produce json
// @Param kind query string false "Filter by event kind"
// @Param start_time query string false "Events emitted at or after this time (RFC3339)"
// @Param end_time query string false "Events emitted at or before this time (RFC3339)"
// @Param offset query int false "Pagination offset" default(0)
// @Param limit query int false "Pagination limit" default(100)
// @Success 200 {object} EventListResponse
// @Failure 500 {object} ErrorResponse
// @Router /events [get]
func listEvents(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			kind       *string
			start, end *time.Time
		)
		if v := c.Query("kind"); v != "" {
			kind = &v
		}
		if v := c.Query("start_time"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				start = &t
			}
		}
		if v := c.Query("end_time"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				end = &t
			}
		}
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

		events, err := store.ListEvents(c.Request.Context(), kind, start, end, offset, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"events": events,
			"total":  len(events),
			"offset": offset,
			"limit":  limit,
		})
	}
}

// EventStats reports aggregate counts
// @Summary Event statistics
// @Description Total and per-kind counts over all stored events
// @Tags events
// @Accept json
// @Produce json
// @Success 200 {object} StatsResponse
// @Failure 500 {object} ErrorResponse
// @Router /events/stats [get]
func eventStats(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		total, err := store.CountEvents(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		kinds, err := store.CountByKind(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"total": total,
			"kinds": kinds,
		})
	}
}
