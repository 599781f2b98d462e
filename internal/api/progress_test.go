package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronesync-desktop/internal/services/groundtruth"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL+"/", "secret-token")
	c.SetRetry(2, 10*time.Millisecond)
	return c
}

func TestFetchUploadDetails(t *testing.T) {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Should decode an enveloped response", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/uploadDetails", r.URL.Path)
			assert.Equal(t, "2026-04-01", r.URL.Query().Get("createdAt"))
			assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"success":true,"data":[
				{"_id":"r1","operator":"op","areaCode":"A","phase":0,"startUploads":10,"createdAt":"2026-04-01T08:00:00Z"},
				{"id":2,"operator":"op","areaCode":"A, B","phase":"1","startUploads":"15","createdAt":"2026-04-01T09:00:00.000Z","detectionCompletedAt":"2026-04-01T10:00:00Z"},
				{"id":"r3","operator":"op","areaCode":["C"],"phase":0,"createdAt":"2026-04-01 11:00:00","detectionStartedAt":""}
			]}`)
		})

		records, err := c.FetchUploadDetails(context.Background(), day)
		require.NoError(t, err)
		require.Len(t, records, 3)

		assert.Equal(t, "r1", records[0].ID)
		assert.Equal(t, []string{"A"}, records[0].AreaCodes)
		require.NotNil(t, records[0].StartUploads)
		assert.Equal(t, 10, *records[0].StartUploads)
		assert.Equal(t, time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC), records[0].CreatedAt)

		assert.Equal(t, "2", records[1].ID)
		assert.Equal(t, []string{"A", "B"}, records[1].AreaCodes)
		assert.Equal(t, 1, records[1].Phase)
		assert.Equal(t, 15, *records[1].StartUploads)
		require.NotNil(t, records[1].DetectionCompletedAt)

		assert.Equal(t, []string{"C"}, records[2].AreaCodes)
		assert.Nil(t, records[2].StartUploads, "missing startUploads stays absent")
		assert.Nil(t, records[2].DetectionStartedAt)
	})

	t.Run("Should accept a bare array", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `[{"id":"x","areaCode":"A","startUploads":3}]`)
		})

		records, err := c.FetchUploadDetails(context.Background(), day)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 3, *records[0].StartUploads)
	})

	t.Run("Should keep records with malformed fields", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"success":true,"data":[
				{"id":"r1","areaCode":"A","startUploads":40,"detectionStartedAt":"01/04/2026 08:05"},
				{"id":"r2","areaCode":"B","startUploads":"n/a"},
				{"id":"r3","areaCode":"C","startUploads":1e30,"createdAt":"yesterday"}
			]}`)
		})

		records, err := c.FetchUploadDetails(context.Background(), day)
		require.NoError(t, err)
		require.Len(t, records, 3)

		require.NotNil(t, records[0].StartUploads)
		assert.Equal(t, 40, *records[0].StartUploads)
		assert.Nil(t, records[0].DetectionStartedAt)
		assert.Nil(t, records[1].StartUploads)
		assert.Nil(t, records[2].StartUploads, "out of range numbers are absent")
		assert.True(t, records[2].CreatedAt.IsZero())

		units := groundtruth.Aggregate(records, nil)
		require.Contains(t, units, groundtruth.UnitKey{AreaCode: "A", Phase: 0})
		require.Contains(t, units, groundtruth.UnitKey{AreaCode: "B", Phase: 0})
		assert.Equal(t, 40, units[groundtruth.UnitKey{AreaCode: "A", Phase: 0}].ExpectedTotal)
		assert.Equal(t, 0, units[groundtruth.UnitKey{AreaCode: "B", Phase: 0}].ExpectedTotal)
	})

	t.Run("Should skip items that are not objects", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `[42, "junk", {"id":"ok","areaCode":"A"}]`)
		})

		records, err := c.FetchUploadDetails(context.Background(), day)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "ok", records[0].ID)
	})

	t.Run("Should treat null data as empty", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"success":true,"data":null}`)
		})

		records, err := c.FetchUploadDetails(context.Background(), day)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("Should surface success false", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"success":false,"message":"token expired"}`)
		})

		_, err := c.FetchUploadDetails(context.Background(), day)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnsuccessful))
		assert.Contains(t, err.Error(), "token expired")
	})

	t.Run("Should retry server errors", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			io.WriteString(w, `[]`)
		})

		_, err := c.FetchUploadDetails(context.Background(), day)
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Should fail on client errors", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := c.FetchUploadDetails(context.Background(), day)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 401")
	})
}

func TestFetchBlockDetections(t *testing.T) {
	t.Run("Should fold rows per area", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/dashboard/birdDropsByBlock", r.URL.Path)
			assert.Equal(t, "today", r.URL.Query().Get("type"))
			io.WriteString(w, `{"success":true,"data":[
				{"area_code":"A","total":50,"true_detection":30,"false_detection":20},
				{"area_code":"B","total":"7","true_detection":"4","false_detection":3},
				{"area_code":"B","total":3,"true_detection":1,"false_detection":2},
				{"area_code":"","total":9}
			]}`)
		})

		got, err := c.FetchBlockDetections(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 30, got["A"].Detected)
		assert.Equal(t, 20, got["A"].Undetected)
		assert.Equal(t, 50, got["A"].Processed())
		assert.Equal(t, 5, got["B"].Detected)
		assert.Equal(t, 5, got["B"].Undetected)
		assert.Equal(t, 10, got["B"].Total)
	})
}

func TestUpdates(t *testing.T) {
	t.Run("Should patch the status variant", func(t *testing.T) {
		var body map[string]interface{}
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPatch, r.Method)
			assert.Equal(t, "/uploadDetails/detection", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			io.WriteString(w, `{"success":true}`)
		})

		err := c.UpdateUploadStatus(context.Background(), StatusUpdate{
			Operator: "op", AreaCode: "A", Status: "active", EndUploads: 80,
		})
		require.NoError(t, err)
		assert.Equal(t, "op", body["operator"])
		assert.Equal(t, "A", body["areaCode"])
		assert.Equal(t, "active", body["status"])
		assert.Equal(t, float64(80), body["endUploads"])
	})

	t.Run("Should patch the detection variant", func(t *testing.T) {
		var body map[string]interface{}
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.WriteHeader(http.StatusNoContent)
		})

		err := c.UpdateDetection(context.Background(), DetectionUpdate{AreaCode: "A", TotalDetected: 60, Operator: "op"})
		require.NoError(t, err)
		assert.Equal(t, float64(60), body["totalDetected"])
	})

	t.Run("Should report rejected updates", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"success":false}`)
		})

		err := c.UpdateDetection(context.Background(), DetectionUpdate{AreaCode: "A"})
		assert.True(t, errors.Is(err, ErrUnsuccessful))
	})
}

func TestFlexDecoding(t *testing.T) {
	t.Run("Should normalise area codes", func(t *testing.T) {
		var a flexAreas
		require.NoError(t, json.Unmarshal([]byte(`" A , ,B"`), &a))
		assert.Equal(t, flexAreas{"A", "B"}, a)

		require.NoError(t, json.Unmarshal([]byte(`["A","B,C",7]`), &a))
		assert.Equal(t, flexAreas{"A", "B", "C", "7"}, a)
	})

	t.Run("Should parse integers from numbers and strings", func(t *testing.T) {
		var n flexInt
		require.NoError(t, json.Unmarshal([]byte(`"42"`), &n))
		assert.Equal(t, 42, n.Value)
		require.NoError(t, json.Unmarshal([]byte(`12.0`), &n))
		assert.Equal(t, 12, n.Value)
	})

	t.Run("Should treat invalid integers as absent", func(t *testing.T) {
		for _, raw := range []string{`"many"`, `1e30`, `-1e300`, `"NaN"`} {
			n := flexInt{Value: 7, Set: true}
			require.NoError(t, json.Unmarshal([]byte(raw), &n), raw)
			assert.False(t, n.Set, raw)
			assert.Nil(t, n.Ptr(), raw)
		}
	})

	t.Run("Should treat invalid timestamps as absent", func(t *testing.T) {
		var ts flexTime
		require.NoError(t, json.Unmarshal([]byte(`"01/04/2026 08:05"`), &ts))
		assert.Nil(t, ts.Time)
		assert.True(t, ts.Value().IsZero())

		require.NoError(t, json.Unmarshal([]byte(`"2026-04-01T08:05:00Z"`), &ts))
		require.NotNil(t, ts.Time)
		assert.Equal(t, 8, ts.Time.Hour())
	})

	t.Run("Should treat unsupported area shapes as no areas", func(t *testing.T) {
		a := flexAreas{"X"}
		require.NoError(t, json.Unmarshal([]byte(`{"code":"A"}`), &a))
		assert.Nil(t, a)
	})
}
