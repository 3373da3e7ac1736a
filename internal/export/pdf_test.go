package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripsync/internal/domain"
)

func TestPackingListPDF_Render(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	room := &domain.Room{
		Name:        "Summer",
		Destination: "Lisbon",
		StartDate:   &start,
		EndDate:     &end,
		TravelMode:  domain.TravelModeTrain,
		Weather:     []byte(`{"main":{"temp":24.2},"weather":[{"description":"clear sky"}]}`),
		PackingList: domain.PackingList{
			{ID: "1", Text: "Passport", Category: "documents", Checked: true},
			{ID: "2", Text: "Sunscreen", Category: "toiletries"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewPackingListPDF().Render(room, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Greater(t, buf.Len(), 500)
}

func TestPackingListPDF_RenderNilRoom(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, NewPackingListPDF().Render(nil, &buf))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "Travel Plan for Oslo", title(&domain.Room{Name: "x", Destination: "Oslo"}))
	assert.Equal(t, "Travel Plan for x", title(&domain.Room{Name: "x"}))
	assert.Equal(t, "Weather: 24.2°C, clear sky", weatherLine([]byte(`{"main":{"temp":24.2},"weather":[{"description":"clear sky"}]}`)))
	assert.Empty(t, weatherLine([]byte(`not json`)))
	assert.Empty(t, dateLine(&domain.Room{}))
}

func TestSections_GroupsByCategory(t *testing.T) {
	list := domain.PackingList{
		{ID: "1", Text: "Passport", Category: "documents"},
		{ID: "2", Text: "Toothbrush", Category: "toiletries"},
		{ID: "3", Text: "Visa", Category: "documents"},
		{ID: "4", Text: "Kite"},
	}

	got := sections(list)
	require.Len(t, got, 3)
	assert.Equal(t, "Documents", got[0].heading)
	assert.Equal(t, []string{"Passport", "Visa"}, []string{got[0].items[0].Text, got[0].items[1].Text})
	assert.Equal(t, "Toiletries", got[1].heading)
	assert.Len(t, got[1].items, 1)
	assert.Equal(t, "Other", got[2].heading)
	assert.Equal(t, "Kite", got[2].items[0].Text)

	assert.Empty(t, sections(nil))
}
