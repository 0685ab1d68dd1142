package geoserver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

type StoreRef struct {
	Class string `json:"@class"`
	Name  string `json:"name"`
}

type CRSBox struct {
	MinX float64 `json:"minx"`
	MaxX float64 `json:"maxx"`
	MinY float64 `json:"miny"`
	MaxY float64 `json:"maxy"`
	CRS  string  `json:"crs,omitempty"`
}

type StyleRef struct {
	Name string `json:"name"`
}

// FeatureType is the subset of the GeoServer feature type resource the
// service publishes views with.
type FeatureType struct {
	Name              string    `json:"name"`
	NativeName        string    `json:"nativeName"`
	Title             string    `json:"title"`
	SRS               string    `json:"srs"`
	ProjectionPolicy  string    `json:"projectionPolicy"`
	Enabled           bool      `json:"enabled"`
	Store             StoreRef  `json:"store"`
	NativeBoundingBox CRSBox    `json:"nativeBoundingBox"`
	LatLonBoundingBox *CRSBox   `json:"latLonBoundingBox,omitempty"`
	DefaultStyle      *StyleRef `json:"defaultStyle,omitempty"`
}

// NewFeatureType describes a view backed feature type in store
// ("<workspace>:<store>") with the declared SRS forced.
func NewFeatureType(store, view, title string, srid int, nativeBox CRSBox, style string) FeatureType {
	nativeBox.CRS = fmt.Sprintf("EPSG:%d", srid)
	ft := FeatureType{
		Name:              view,
		NativeName:        view,
		Title:             title,
		SRS:               fmt.Sprintf("EPSG:%d", srid),
		ProjectionPolicy:  "FORCE_DECLARED",
		Enabled:           true,
		Store:             StoreRef{Class: "dataStore", Name: store},
		NativeBoundingBox: nativeBox,
	}
	if style != "" {
		ft.DefaultStyle = &StyleRef{Name: style}
	}
	return ft
}

// CreateFeatureType registers ft in the data store. GeoServer answers 201.
func (c *Client) CreateFeatureType(ctx context.Context, ft FeatureType) error {
	const op = "create feature type"
	payload := map[string]interface{}{"featureType": ft}
	status, body, err := c.do(ctx, op, http.MethodPost, c.featureTypesPath(), payload)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return statusError(op, status, body)
	}
	c.log.Info("feature type created", zap.String("featureType", ft.Name))
	return nil
}

// DeleteFeatureType removes a feature type and its layer. It reports false
// without error when the feature type did not exist.
func (c *Client) DeleteFeatureType(ctx context.Context, name string) (bool, error) {
	const op = "delete feature type"
	path := c.featureTypesPath() + "/" + url.PathEscape(name) + "?recurse=true"
	status, body, err := c.do(ctx, op, http.MethodDelete, path, nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		c.log.Info("feature type deleted", zap.String("featureType", name))
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError(op, status, body)
}

