// Package weather 封装 OpenWeatherMap 的当前天气与 5 天预报接口。
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultBaseURL = "https://api.openweathermap.org/data/2.5"

// ErrPlaceNotFound 表示天气服务不认识该地点
var (
	ErrPlaceNotFound = errors.New("weather: place not found")
	ErrEmptyPlace    = errors.New("weather: empty place")
	ErrNotConfigured = errors.New("weather: api key not configured")
)

// Snapshot 是一次查询的结果。Current/Forecast 原样保存到房间上。
type Snapshot struct {
	Current     json.RawMessage
	Forecast    json.RawMessage
	TempC       float64
	Humidity    float64
	Condition   string // weather[0].main，小写
	Description string // weather[0].description
}

// Rainy 报告当前天气是否有雨
func (s *Snapshot) Rainy() bool {
	return strings.Contains(s.Condition, "rain")
}

// Client 是 OpenWeatherMap 客户端
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option 配置 Client
type Option func(*Client)

// WithBaseURL 覆盖 API 地址，测试时指向 httptest 服务器
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient 替换默认的 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient 创建客户端
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentAndForecast 并发获取当前天气和预报。任一失败则整体失败。
func (c *Client) CurrentAndForecast(ctx context.Context, place string) (*Snapshot, error) {
	place = strings.TrimSpace(place)
	if place == "" {
		return nil, ErrEmptyPlace
	}
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	var current, forecast []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = c.get(gctx, "weather", place)
		return err
	})
	g.Go(func() error {
		var err error
		forecast, err = c.get(gctx, "forecast", place)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap, err := ParseCurrent(current)
	if err != nil {
		return nil, err
	}
	snap.Forecast = forecast
	return snap, nil
}

// ParseCurrent 解析当前天气接口的原始响应，Forecast 留空
func ParseCurrent(current []byte) (*Snapshot, error) {
	var parsed struct {
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity float64 `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
		} `json:"weather"`
	}
	if err := json.Unmarshal(current, &parsed); err != nil {
		return nil, fmt.Errorf("weather: malformed current weather payload: %w", err)
	}
	snap := &Snapshot{
		Current:  current,
		TempC:    parsed.Main.Temp,
		Humidity: parsed.Main.Humidity,
	}
	if len(parsed.Weather) > 0 {
		snap.Condition = strings.ToLower(parsed.Weather[0].Main)
		snap.Description = parsed.Weather[0].Description
	}
	return snap, nil
}

func (c *Client) get(ctx context.Context, endpoint, place string) ([]byte, error) {
	q := url.Values{}
	q.Set("q", place)
	q.Set("units", "metric")
	q.Set("appid", c.apiKey)
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("weather: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather: %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("weather: read %s response: %w", endpoint, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrPlaceNotFound, place)
	case resp.StatusCode != http.StatusOK:
		logrus.WithFields(logrus.Fields{"endpoint": endpoint, "status": resp.StatusCode}).Warn("Weather API returned non-200 status")
		return nil, fmt.Errorf("weather: %s returned status %d", endpoint, resp.StatusCode)
	}
	return body, nil
}

// Recommendation 根据温度和天气给出一句出行建议
func Recommendation(s *Snapshot) string {
	if s == nil {
		return ""
	}
	var rec string
	switch t := s.TempC; {
	case t > 30:
		rec = "Extreme heat expected! Avoid outdoor activities during midday and drink plenty of water."
	case t > 25:
		rec = "Warm weather expected! Don't forget your sunscreen."
	case t > 15:
		rec = "Mild temperatures expected. Perfect for sightseeing."
	case t > 5:
		rec = "Cool weather expected. Bring layers."
	default:
		rec = "Very cold temperatures expected. Dress in warm layers."
	}
	switch {
	case s.Rainy():
		rec += " Rain expected - pack waterproof gear."
	case strings.Contains(s.Condition, "snow"):
		rec += " Snow expected - check for travel disruptions."
	}
	return rec
}
