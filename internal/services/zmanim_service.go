package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Candle lighting is customarily 18 minutes before sunset.
const candleLightingOffset = 18 * time.Minute

// ZmanimResult is the time lookup returned to the kiosk.
type ZmanimResult struct {
	LocationID     string `json:"location_id,omitempty"`
	LocationName   string `json:"location_name,omitempty"`
	CandleLighting string `json:"candle_lighting"`
	Havdalah       string `json:"havdalah,omitempty"`
	Sunset         string `json:"sunset,omitempty"`
	// Source is "service" when the zmanim API answered, "calculated"
	// when the local fallback produced the times.
	Source string `json:"source"`
}

// ZmanimService looks up halachic times from the third-party zmanim
// API, with a local candle-lighting calculation as a fallback when the
// service is unreachable.
type ZmanimService interface {
	LookupByCoordinates(ctx context.Context, latitude, longitude float64) (*ZmanimResult, error)
	LookupByZip(ctx context.Context, zipCode string) (*ZmanimResult, error)
}

type zmanimService struct {
	baseURL string
	http    *http.Client
}

type ZmanimOption func(*zmanimService)

func WithZmanimHTTPClient(c *http.Client) ZmanimOption {
	return func(s *zmanimService) {
		s.http = c
	}
}

func NewZmanimService(baseURL string, opts ...ZmanimOption) ZmanimService {
	s := &zmanimService{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *zmanimService) LookupByCoordinates(ctx context.Context, latitude, longitude float64) (*ZmanimResult, error) {
	locationID, locationName, err := s.findLocation(ctx, url.Values{
		"mode":      {"coordinates"},
		"latitude":  {fmt.Sprintf("%.6f", latitude)},
		"longitude": {fmt.Sprintf("%.6f", longitude)},
	})
	if err == nil {
		result, timesErr := s.fetchTimes(ctx, locationID)
		if timesErr == nil {
			result.LocationName = locationName
			return result, nil
		}
		err = timesErr
	}

	// The service is down or does not know this location; compute
	// candle lighting locally from the coordinates.
	log.Printf("WARN: zmanim service lookup failed, using local calculation: %v", err)
	return fallbackCandleLighting(latitude, longitude, time.Now()), nil
}

func (s *zmanimService) LookupByZip(ctx context.Context, zipCode string) (*ZmanimResult, error) {
	locationID, locationName, err := s.findLocation(ctx, url.Values{
		"mode": {"zip"},
		"zip":  {zipCode},
	})
	if err != nil {
		// Without coordinates there is nothing to calculate from.
		return nil, fmt.Errorf("zmanim location lookup for zip %s: %w", zipCode, err)
	}
	result, err := s.fetchTimes(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("zmanim times for zip %s: %w", zipCode, err)
	}
	result.LocationName = locationName
	return result, nil
}

// findLocation resolves a place to the service's internal location id.
// The API takes form-encoded POSTs.
func (s *zmanimService) findLocation(ctx context.Context, form url.Values) (string, string, error) {
	var resp struct {
		LocationID string `json:"locationId"`
		Name       string `json:"name"`
	}
	if err := s.postForm(ctx, "/api/locations/search", form, &resp); err != nil {
		return "", "", err
	}
	if resp.LocationID == "" {
		return "", "", fmt.Errorf("no location found")
	}
	return resp.LocationID, resp.Name, nil
}

func (s *zmanimService) fetchTimes(ctx context.Context, locationID string) (*ZmanimResult, error) {
	var resp struct {
		CandleLighting string `json:"candleLighting"`
		Havdalah       string `json:"havdalah"`
		Sunset         string `json:"sunset"`
	}
	form := url.Values{
		"locationid": {locationID},
		"date":       {time.Now().Format("2006-01-02")},
	}
	if err := s.postForm(ctx, "/api/zmanim", form, &resp); err != nil {
		return nil, err
	}
	if resp.CandleLighting == "" {
		return nil, fmt.Errorf("zmanim response missing candle lighting time")
	}
	return &ZmanimResult{
		LocationID:     locationID,
		CandleLighting: resp.CandleLighting,
		Havdalah:       resp.Havdalah,
		Sunset:         resp.Sunset,
		Source:         "service",
	}, nil
}

func (s *zmanimService) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("zmanim request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("zmanim service returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// fallbackCandleLighting computes sunset with the NOAA approximation
// and subtracts the customary 18 minutes.
func fallbackCandleLighting(latitude, longitude float64, date time.Time) *ZmanimResult {
	sunset := approximateSunset(latitude, longitude, date)
	candles := sunset.Add(-candleLightingOffset)
	return &ZmanimResult{
		CandleLighting: candles.Format(time.RFC3339),
		Sunset:         sunset.Format(time.RFC3339),
		Source:         "calculated",
	}
}

// approximateSunset implements the NOAA solar position approximation.
// Accuracy is within a couple of minutes, which is fine for a fallback.
func approximateSunset(latitude, longitude float64, date time.Time) time.Time {
	const zenith = 90.833 // official sunset, degrees

	day := float64(date.YearDay())
	lngHour := longitude / 15.0
	t := day + ((18.0 - lngHour) / 24.0)

	// Sun's mean anomaly and true longitude.
	m := (0.9856 * t) - 3.289
	l := m + (1.916 * math.Sin(deg2rad(m))) + (0.020 * math.Sin(deg2rad(2*m))) + 282.634
	l = math.Mod(l+360.0, 360.0)

	// Right ascension, shifted into the same quadrant as l.
	ra := rad2deg(math.Atan(0.91764 * math.Tan(deg2rad(l))))
	ra = math.Mod(ra+360.0, 360.0)
	ra += (math.Floor(l/90.0) - math.Floor(ra/90.0)) * 90.0
	ra /= 15.0

	sinDec := 0.39782 * math.Sin(deg2rad(l))
	cosDec := math.Cos(math.Asin(sinDec))

	cosH := (math.Cos(deg2rad(zenith)) - (sinDec * math.Sin(deg2rad(latitude)))) / (cosDec * math.Cos(deg2rad(latitude)))
	if cosH > 1 || cosH < -1 {
		// Sun never sets or never rises at this latitude today; fall
		// back to 6pm local solar time.
		cosH = 0
	}

	h := rad2deg(math.Acos(cosH)) / 15.0
	localT := h + ra - (0.06571 * t) - 6.622
	utc := math.Mod(localT-lngHour+24.0, 24.0)

	hours := int(utc)
	minutes := int(math.Round((utc - float64(hours)) * 60.0))
	if minutes == 60 {
		hours, minutes = hours+1, 0
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hours, minutes, 0, 0, time.UTC)
}

func deg2rad(d float64) float64 { return d * math.Pi / 180.0 }
func rad2deg(r float64) float64 { return r * 180.0 / math.Pi }
