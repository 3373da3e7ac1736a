package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWeatherServer(t *testing.T, currentStatus int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		assert.Equal(t, "key", r.URL.Query().Get("appid"))
		switch r.URL.Path {
		case "/weather":
			w.WriteHeader(currentStatus)
			_, _ = w.Write([]byte(`{"main":{"temp":27.5,"humidity":80},"weather":[{"main":"Rain"}],"name":"` + r.URL.Query().Get("q") + `"}`))
		case "/forecast":
			_, _ = w.Write([]byte(`{"list":[{"dt":1}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClient_CurrentAndForecast(t *testing.T) {
	srv, hits := newWeatherServer(t, http.StatusOK)
	c := NewClient("key", WithBaseURL(srv.URL+"/"))

	snap, err := c.CurrentAndForecast(context.Background(), "Bali Beach")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
	assert.InDelta(t, 27.5, snap.TempC, 0.001)
	assert.InDelta(t, 80, snap.Humidity, 0.001)
	assert.Equal(t, "rain", snap.Condition)
	assert.True(t, snap.Rainy())
	assert.Contains(t, string(snap.Current), "Bali Beach")
	assert.JSONEq(t, `{"list":[{"dt":1}]}`, string(snap.Forecast))
}

func TestClient_PlaceNotFound(t *testing.T) {
	srv, _ := newWeatherServer(t, http.StatusNotFound)
	c := NewClient("key", WithBaseURL(srv.URL))

	_, err := c.CurrentAndForecast(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, ErrPlaceNotFound)
}

func TestClient_RejectsMissingInput(t *testing.T) {
	_, err := NewClient("key").CurrentAndForecast(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyPlace)
	_, err = NewClient("").CurrentAndForecast(context.Background(), "Paris")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRecommendation(t *testing.T) {
	assert.Contains(t, Recommendation(&Snapshot{TempC: 31}), "Extreme heat")
	assert.Contains(t, Recommendation(&Snapshot{TempC: 20, Condition: "rain"}), "Rain expected")
	assert.Contains(t, Recommendation(&Snapshot{TempC: -3, Condition: "snow"}), "Snow expected")
	assert.Empty(t, Recommendation(nil))
}

func TestParseCurrent(t *testing.T) {
	snap, err := ParseCurrent([]byte(`{"main":{"temp":8.5,"humidity":80},"weather":[{"main":"Drizzle","description":"light drizzle"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 8.5, snap.TempC)
	assert.Equal(t, "drizzle", snap.Condition)
	assert.Equal(t, "light drizzle", snap.Description)
	assert.Nil(t, snap.Forecast)

	_, err = ParseCurrent([]byte(`<html>`))
	assert.Error(t, err)
}
