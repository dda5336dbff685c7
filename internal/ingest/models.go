package ingest

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is one runner event as stored after ingestion.
// @Description Runner event with kind, emission timestamp and raw payload
type Event struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primary_key" example:"550e8400-e29b-41d4-a716-446655440000"`
	Kind       string         `json:"kind" gorm:"index" example:"action.end"`
	TS         time.Time      `json:"ts" example:"2026-03-14T09:26:53.589Z"`
	Payload    datatypes.JSON `json:"payload" swaggertype:"object"`
	ReceivedAt time.Time      `json:"received_at" gorm:"autoCreateTime" example:"2026-03-14T09:26:54.102Z"`
} //@name Event

func (Event) TableName() string {
	return "events"
}

// BeforeCreate hook for Event - generates UUID if nil
func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// EventListResponse represents a response containing a list of events
// @Description Response containing a list of events with pagination info
type EventListResponse struct {
	Events []Event `json:"events"`
	Total  int     `json:"total" example:"42"`
	Offset int     `json:"offset" example:"0"`
	Limit  int     `json:"limit" example:"100"`
} //@name EventListResponse

// KindCount is the per-kind tally behind the stats endpoint.
// @Description Number of stored events for one event kind
type KindCount struct {
	Kind  string `json:"kind" example:"action.start"`
	Count int64  `json:"count" example:"33"`
} //@name KindCount

// StatsResponse represents aggregate counts over stored events
// @Description Aggregate event counts, total and per kind
type StatsResponse struct {
	Total int64       `json:"total" example:"72"`
	Kinds []KindCount `json:"kinds"`
} //@name StatsResponse

// ErrorResponse represents an error response
// @Description Standard error response format
type ErrorResponse struct {
	Error string `json:"error" example:"kind is required"`
} //@name ErrorResponse
