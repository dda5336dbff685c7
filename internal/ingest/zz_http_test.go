package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Handler behavior is database-agnostic, so these tests run against
// in-memory SQLite; the store tests exercise real Postgres.
func setupTestRouter(t *testing.T) (*gin.Engine, *Store) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&Event{})
	require.NoError(t, err)

	router := gin.New()

	// The forwarder posts to /ingest without a version prefix, so the
	// routes mount on an unprefixed group.
	root := router.Group("")
	RegisterRoutes(root, db)

	return router, NewStore(db)
}

func postJSON(t *testing.T, router *gin.Engine, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest("POST", path, bytes.NewBuffer(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestIngestEvent(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name           string
		requestBody    interface{}
		expectedStatus int
		expectedKind   string
	}{
		{
			name: "accept a complete event",
			requestBody: IngestRequest{
				TS:      time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC),
				Kind:    "action.end",
				Payload: json.RawMessage(`{"name":"Authenticate","ok":true,"durationMs":2143}`),
			},
			expectedStatus: http.StatusAccepted,
			expectedKind:   "action.end",
		},
		{
			name: "default missing payload to an empty object",
			requestBody: IngestRequest{
				TS:   time.Date(2026, 3, 14, 9, 27, 1, 0, time.UTC),
				Kind: "debug.pause",
			},
			expectedStatus: http.StatusAccepted,
			expectedKind:   "debug.pause",
		},
		{
			name:           "reject missing kind",
			requestBody:    map[string]interface{}{"ts": "2026-03-14T09:26:53.589Z"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "reject missing timestamp",
			requestBody:    map[string]interface{}{"kind": "runner.start"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "reject invalid JSON",
			requestBody:    `{"kind": "runner.start",`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body []byte
			var err error

			if str, ok := tt.requestBody.(string); ok {
				body = []byte(str)
			} else {
				body, err = json.Marshal(tt.requestBody)
				require.NoError(t, err)
			}

			rr := postJSON(t, router, "/ingest", body)
			assert.Equal(t, tt.expectedStatus, rr.Code)

			if tt.expectedStatus == http.StatusAccepted {
				var response Event
				err := json.Unmarshal(rr.Body.Bytes(), &response)
				require.NoError(t, err)

				assert.NotEqual(t, uuid.Nil, response.ID)
				assert.Equal(t, tt.expectedKind, response.Kind)
			} else {
				var response map[string]interface{}
				err := json.Unmarshal(rr.Body.Bytes(), &response)
				require.NoError(t, err)
				assert.Contains(t, response, "error")
			}
		})
	}
}

func TestIngestEventPersists(t *testing.T) {
	router, store := setupTestRouter(t)

	line := `{"ts":"2026-03-14T09:26:53.589Z","kind":"screenshot.taken","payload":{"name":"first message","path":"artifacts/05-first-message.png"}}`
	rr := postJSON(t, router, "/ingest", []byte(line))
	require.Equal(t, http.StatusAccepted, rr.Code)

	var response Event
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))

	stored, err := store.GetEvent(context.Background(), response.ID)
	require.NoError(t, err)

	assert.Equal(t, "screenshot.taken", stored.Kind)
	assert.True(t, stored.TS.Equal(time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)),
		"stored ts = %v", stored.TS)
	assert.False(t, stored.ReceivedAt.IsZero())

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(stored.Payload, &payload))
	assert.Equal(t, "first message", payload["name"])
	assert.Equal(t, "artifacts/05-first-message.png", payload["path"])
}

func TestIngestEventEmptyPayloadStoredAsObject(t *testing.T) {
	router, store := setupTestRouter(t)

	rr := postJSON(t, router, "/ingest", []byte(`{"ts":"2026-03-14T09:26:53.589Z","kind":"runner.start"}`))
	require.Equal(t, http.StatusAccepted, rr.Code)

	var response Event
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))

	stored, err := store.GetEvent(context.Background(), response.ID)
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(stored.Payload, &payload))
	assert.Empty(t, payload)
}

func TestListEventsEndpoint(t *testing.T) {
	router, store := setupTestRouter(t)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	kinds := []string{"runner.start", "action.start", "action.end"}
	for i, kind := range kinds {
		ev := &Event{
			Kind:    kind,
			TS:      base.Add(time.Duration(i) * time.Second),
			Payload: datatypes.JSON([]byte(`{}`)),
		}
		require.NoError(t, store.CreateEvent(context.Background(), ev))
	}

	type listResponse struct {
		Events []Event `json:"events"`
		Total  int     `json:"total"`
		Offset int     `json:"offset"`
		Limit  int     `json:"limit"`
	}

	getList := func(t *testing.T, path string) listResponse {
		t.Helper()
		req, err := http.NewRequest("GET", path, nil)
		require.NoError(t, err)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp listResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		return resp
	}

	t.Run("returns the trace in emission order", func(t *testing.T) {
		resp := getList(t, "/events")
		require.Len(t, resp.Events, 3)
		assert.Equal(t, 3, resp.Total)
		for i, kind := range kinds {
			assert.Equal(t, kind, resp.Events[i].Kind)
		}
	})

	t.Run("filters by kind", func(t *testing.T) {
		resp := getList(t, "/events?kind=action.start")
		require.Len(t, resp.Events, 1)
		assert.Equal(t, "action.start", resp.Events[0].Kind)
	})

	t.Run("filters by time range", func(t *testing.T) {
		path := fmt.Sprintf("/events?start_time=%s&end_time=%s",
			base.Add(1*time.Second).Format(time.RFC3339),
			base.Add(2*time.Second).Format(time.RFC3339))
		resp := getList(t, path)
		require.Len(t, resp.Events, 2)
		assert.Equal(t, "action.start", resp.Events[0].Kind)
		assert.Equal(t, "action.end", resp.Events[1].Kind)
	})

	t.Run("paginates", func(t *testing.T) {
		resp := getList(t, "/events?offset=1&limit=1")
		require.Len(t, resp.Events, 1)
		assert.Equal(t, "action.start", resp.Events[0].Kind)
		assert.Equal(t, 1, resp.Offset)
		assert.Equal(t, 1, resp.Limit)
	})
}

func TestEventStatsEndpoint(t *testing.T) {
	router, store := setupTestRouter(t)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		require.NoError(t, store.CreateEvent(context.Background(), &Event{
			Kind:    "action.start",
			TS:      base.Add(time.Duration(i) * time.Second),
			Payload: datatypes.JSON([]byte(`{}`)),
		}))
	}
	require.NoError(t, store.CreateEvent(context.Background(), &Event{
		Kind:    "runner.end",
		TS:      base.Add(5 * time.Second),
		Payload: datatypes.JSON([]byte(`{}`)),
	}))

	req, err := http.NewRequest("GET", "/events/stats", nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, int64(3), resp.Total)
	counts := map[string]int64{}
	for _, kc := range resp.Kinds {
		counts[kc.Kind] = kc.Count
	}
	assert.Equal(t, int64(2), counts["action.start"])
	assert.Equal(t, int64(1), counts["runner.end"])
}
