// Package client talks to the pulsemap backend: tract polygons, update
// lists, report reactions and the natural-hazard feeds.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/time/rate"

	"github.com/mr1hm/go-pulsemap/internal/geo"
	"github.com/mr1hm/go-pulsemap/internal/models"
	"github.com/mr1hm/go-pulsemap/internal/observability"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Endpoint, e.Code, e.Body)
}

type Options struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second, <= 0 disables limiting
	Burst     int
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     *slog.Logger
}

func New(baseURL string, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    limiter,
		metrics:    metrics,
		logger:     logger,
	}
}

// Tracts fetches the tract polygons intersecting bbox.
func (c *Client) Tracts(ctx context.Context, bbox geo.BBox) (*geojson.FeatureCollection, error) {
	q := url.Values{"bbox": {bbox.String()}}
	body, err := c.get(ctx, "tracts", "/geo/tracts", q)
	if err != nil {
		return nil, err
	}
	return DecodeCollection(body)
}

type LocalQuery struct {
	RadiusMiles float64
	MaxAgeHours int
	Limit       int
}

// LocalUpdates fetches updates around anchor. Items are returned as raw
// JSON objects; numbers are kept as json.Number.
func (c *Client) LocalUpdates(ctx context.Context, anchor models.Coordinates, lq LocalQuery) ([]map[string]any, error) {
	q := url.Values{
		"lat":           {formatFloat(anchor.Latitude)},
		"lon":           {formatFloat(anchor.Longitude)},
		"radius_miles":  {formatFloat(lq.RadiusMiles)},
		"max_age_hours": {strconv.Itoa(lq.MaxAgeHours)},
		"limit":         {strconv.Itoa(lq.Limit)},
	}
	body, err := c.get(ctx, "updates_local", "/updates/local", q)
	if err != nil {
		return nil, err
	}
	return DecodeItems(body)
}

func (c *Client) GlobalUpdates(ctx context.Context, limit int) ([]map[string]any, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	body, err := c.get(ctx, "updates_global", "/updates/global", q)
	if err != nil {
		return nil, err
	}
	return DecodeItems(body)
}

// Reactions batch-loads reaction state for ids. Unknown ids are simply
// absent from the result.
func (c *Client) Reactions(ctx context.Context, ids []string, sessionID string) (map[string]models.ReactionState, error) {
	if len(ids) == 0 {
		return map[string]models.ReactionState{}, nil
	}
	q := url.Values{
		"ids":        {strings.Join(ids, ",")},
		"session_id": {sessionID},
	}
	body, err := c.get(ctx, "reactions", "/reports/reactions", q)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.ReactionState)
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode reactions: %w", err)
	}
	return out, nil
}

type reactRequest struct {
	Action    models.Action `json:"action"`
	Value     bool          `json:"value"`
	SessionID string        `json:"session_id"`
}

// React sets the session's reaction for rid to value and returns the
// authoritative state.
func (c *Client) React(ctx context.Context, rid string, action models.Action, value bool, sessionID string) (models.ReactionState, error) {
	payload, err := json.Marshal(reactRequest{Action: action, Value: value, SessionID: sessionID})
	if err != nil {
		return models.ReactionState{}, fmt.Errorf("encode react request: %w", err)
	}
	path := "/reports/" + url.PathEscape(rid) + "/react"
	body, err := c.do(ctx, "react", http.MethodPost, path, nil, payload)
	if err != nil {
		return models.ReactionState{}, err
	}
	var state models.ReactionState
	if err := json.Unmarshal(body, &state); err != nil {
		return models.ReactionState{}, fmt.Errorf("decode react response: %w", err)
	}
	return state, nil
}

// Reports fetches all community reports as point features.
func (c *Client) Reports(ctx context.Context) (*geojson.FeatureCollection, error) {
	body, err := c.get(ctx, "reports", "/reports", nil)
	if err != nil {
		return nil, err
	}
	return DecodeCollection(body)
}

type FeedKind string

const (
	FeedNWS   FeedKind = "nws"
	FeedUSGS  FeedKind = "usgs"
	FeedEONET FeedKind = "eonet"
	FeedFIRMS FeedKind = "firms"
)

// Feed fetches one of the hazard feeds.
func (c *Client) Feed(ctx context.Context, kind FeedKind) (*geojson.FeatureCollection, error) {
	body, err := c.get(ctx, "feed_"+string(kind), "/feeds/"+string(kind), nil)
	if err != nil {
		return nil, err
	}
	return DecodeCollection(body)
}

func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values) ([]byte, error) {
	return c.do(ctx, endpoint, http.MethodGet, path, q, nil)
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, q url.Values, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit wait: %w", endpoint, err)
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.RemoteDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	return body, nil
}

// DecodeItems accepts a bare JSON array or an object wrapping the array
// under "items", "updates" or "results". Non-object entries are skipped.
func DecodeItems(body []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}

	var list []any
	switch t := v.(type) {
	case []any:
		list = t
	case map[string]any:
		for _, key := range []string{"items", "updates", "results"} {
			if l, ok := t[key].([]any); ok {
				list = l
				break
			}
		}
	}

	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

var errNotCollection = errors.New("response is not a feature collection")

// DecodeCollection accepts a FeatureCollection, a {"data": ...} envelope,
// a bare {"features": [...]} object, or row lists ({"rows": [...]},
// {"items": [...]} or a bare array) carrying lat/lon fields, which are
// turned into Point features.
func DecodeCollection(body []byte) (*geojson.FeatureCollection, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return rowsToCollection(trimmed)
	}

	var probe struct {
		Type     string          `json:"type"`
		Features json.RawMessage `json:"features"`
		Data     json.RawMessage `json:"data"`
		Rows     json.RawMessage `json:"rows"`
		Items    json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}

	switch {
	case probe.Type == "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(trimmed)
		if err != nil {
			return nil, fmt.Errorf("decode collection: %w", err)
		}
		return fc, nil
	case isPresent(probe.Data):
		return DecodeCollection(probe.Data)
	case isPresent(probe.Features):
		wrapped := []byte(`{"type":"FeatureCollection","features":` + string(probe.Features) + `}`)
		fc, err := geojson.UnmarshalFeatureCollection(wrapped)
		if err != nil {
			return nil, fmt.Errorf("decode collection: %w", err)
		}
		return fc, nil
	case isPresent(probe.Rows):
		return rowsToCollection(probe.Rows)
	case isPresent(probe.Items):
		return rowsToCollection(probe.Items)
	default:
		return nil, errNotCollection
	}
}

func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

var (
	latKeys = []string{"lat", "latitude", "LAT", "LATITUDE"}
	lonKeys = []string{"lon", "longitude", "LON", "LONGITUDE"}
)

func rowsToCollection(raw []byte) (*geojson.FeatureCollection, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}

	fc := geojson.NewFeatureCollection()
	for _, r := range rows {
		lat, okLat := firstFloat(r, latKeys)
		lon, okLon := firstFloat(r, lonKeys)
		if !okLat || !okLon {
			continue
		}
		f := geojson.NewFeature(models.Coordinates{Latitude: lat, Longitude: lon}.Point())
		f.Properties = geojson.Properties(r)
		fc.Append(f)
	}
	return fc, nil
}

func firstFloat(m map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		return ToFloat(v)
	}
	return 0, false
}

// ToFloat converts JSON scalars to a finite float64.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
