package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dronesync-desktop/internal/services/groundtruth"
)

const (
	uploadDetailsEndpoint   = "uploadDetails"
	detectionEndpoint       = "uploadDetails/detection"
	blockDetectionsEndpoint = "dashboard/birdDropsByBlock"
)

// StatusUpdate is the relay body reporting an area's processed count.
type StatusUpdate struct {
	Operator   string `json:"operator"`
	AreaCode   string `json:"areaCode"`
	Status     string `json:"status"`
	EndUploads int    `json:"endUploads"`
}

// DetectionUpdate is the body reporting an area's detected count.
type DetectionUpdate struct {
	AreaCode      string `json:"areaCode"`
	TotalDetected int    `json:"totalDetected"`
	Operator      string `json:"operator"`
}

type uploadDetailWire struct {
	ID                   flexString `json:"id"`
	MongoID              flexString `json:"_id"`
	Operator             flexString `json:"operator"`
	AreaCode             flexAreas  `json:"areaCode"`
	Phase                flexInt    `json:"phase"`
	StartUploads         flexInt    `json:"startUploads"`
	CreatedAt            flexTime   `json:"createdAt"`
	DetectionStartedAt   flexTime   `json:"detectionStartedAt"`
	DetectionCompletedAt flexTime   `json:"detectionCompletedAt"`
}

func (w uploadDetailWire) record() groundtruth.Record {
	id := string(w.ID)
	if id == "" {
		id = string(w.MongoID)
	}
	return groundtruth.Record{
		ID:                   id,
		Operator:             string(w.Operator),
		AreaCodes:            []string(w.AreaCode),
		Phase:                w.Phase.Value,
		StartUploads:         w.StartUploads.Ptr(),
		CreatedAt:            w.CreatedAt.Value(),
		DetectionStartedAt:   w.DetectionStartedAt.Time,
		DetectionCompletedAt: w.DetectionCompletedAt.Time,
	}
}

type blockDetectionWire struct {
	AreaCode       flexString `json:"area_code"`
	Total          flexInt    `json:"total"`
	TrueDetection  flexInt    `json:"true_detection"`
	FalseDetection flexInt    `json:"false_detection"`
}

// FetchUploadDetails returns the upload session records created on day.
// Fields that cannot be decoded are treated as absent; only items that are
// not JSON objects are skipped.
func (c *Client) FetchUploadDetails(ctx context.Context, day time.Time) ([]groundtruth.Record, error) {
	resp, err := c.Get(ctx, uploadDetailsEndpoint, map[string]string{
		"createdAt": day.Format("2006-01-02"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch upload details: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to fetch upload details: HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	items, err := decodeItems(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch upload details: %w", err)
	}

	records := make([]groundtruth.Record, 0, len(items))
	for i, item := range items {
		var w uploadDetailWire
		if err := json.Unmarshal(item, &w); err != nil {
			log.Warningf("Skipping malformed upload record %d: %v", i, err)
			continue
		}
		records = append(records, w.record())
	}

	log.Debugf("Fetched %d upload records for %s", len(records), day.Format("2006-01-02"))
	return records, nil
}

// FetchBlockDetections returns today's processed counts per area from the
// dashboard aggregate.
func (c *Client) FetchBlockDetections(ctx context.Context) (map[string]groundtruth.Detections, error) {
	resp, err := c.Get(ctx, blockDetectionsEndpoint, map[string]string{"type": "today"})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block detections: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to fetch block detections: HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	items, err := decodeItems(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block detections: %w", err)
	}

	out := make(map[string]groundtruth.Detections, len(items))
	for i, item := range items {
		var w blockDetectionWire
		if err := json.Unmarshal(item, &w); err != nil {
			log.Warningf("Skipping malformed detection row %d: %v", i, err)
			continue
		}
		area := string(w.AreaCode)
		if area == "" {
			continue
		}
		// Rows repeat per block inside an area; fold them together.
		d := out[area]
		d.AreaCode = area
		d.Total += w.Total.Value
		d.Detected += w.TrueDetection.Value
		d.Undetected += w.FalseDetection.Value
		out[area] = d
	}
	return out, nil
}

// UpdateUploadStatus reports an area's processed count to the backend.
func (c *Client) UpdateUploadStatus(ctx context.Context, update StatusUpdate) error {
	return c.patchDetection(ctx, update)
}

// UpdateDetection reports an area's detected count to the backend.
func (c *Client) UpdateDetection(ctx context.Context, update DetectionUpdate) error {
	return c.patchDetection(ctx, update)
}

func (c *Client) patchDetection(ctx context.Context, body interface{}) error {
	resp, err := c.Patch(ctx, detectionEndpoint, body)
	if err != nil {
		return fmt.Errorf("failed to update detection: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("failed to update detection: HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	if err := checkAck(resp.Body()); err != nil {
		return fmt.Errorf("failed to update detection: %w", err)
	}
	return nil
}

func decodeItems(body []byte) ([]json.RawMessage, error) {
	list, err := unwrapList(body)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(list, &items); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	return items, nil
}
