package geoserver

import (
	"context"
	"net/http"
	"net/url"
)

type SeedBounds struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
}

type SeedRequest struct {
	Name   string `json:"name"`
	Coords struct {
		Bounds SeedBounds `json:"bounds"`
	} `json:"coords"`
	SRS struct {
		Number int `json:"number"`
	} `json:"srs"`
	GridSetID string `json:"gridSetId"`
	Type      string `json:"type"`
	Format    string `json:"format"`
	ZoomStart int    `json:"zoomStart"`
	ZoomStop  int    `json:"zoomStop"`
}

// TruncateOptions selects the cached tiles to drop.
type TruncateOptions struct {
	GridSRID  int
	GridSetID string
	Format    string
	ZoomStart int
	ZoomStop  int
}

func NewTruncateRequest(layer string, bounds SeedBounds, opts TruncateOptions) SeedRequest {
	var req SeedRequest
	req.Name = layer
	req.Coords.Bounds = bounds
	req.SRS.Number = opts.GridSRID
	req.GridSetID = opts.GridSetID
	req.Type = "truncate"
	req.Format = opts.Format
	req.ZoomStart = opts.ZoomStart
	req.ZoomStop = opts.ZoomStop
	return req
}

// Truncate asks GeoWebCache to drop the cached tiles of a workspace layer
// inside the request bounds.
func (c *Client) Truncate(ctx context.Context, layer string, bounds SeedBounds, opts TruncateOptions) error {
	const op = "gwc truncate"
	qualified := c.cfg.Workspace + ":" + layer
	req := NewTruncateRequest(qualified, bounds, opts)
	path := "/gwc/rest/seed/" + url.PathEscape(qualified) + ".json"

	status, body, err := c.do(ctx, op, http.MethodPost, path, map[string]interface{}{"seedRequest": req})
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusNoContent {
		return statusError(op, status, body)
	}
	return nil
}
