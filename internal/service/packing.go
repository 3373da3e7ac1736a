package service

import (
	"strings"

	"github.com/google/uuid"

	"tripsync/internal/domain"
	"tripsync/internal/weather"
)

type itemTemplate struct {
	text     string
	category string
}

var essentialItems = []itemTemplate{
	{"Phone charger", "electronics"},
	{"Power bank", "electronics"},
	{"Toiletries", "essentials"},
	{"First aid kit", "medical"},
	{"Medications", "medical"},
	{"Hand sanitizer", "health"},
	{"Travel insurance documents", "documents"},
}

var travelModeItems = map[domain.TravelMode][]itemTemplate{
	domain.TravelModeFlight: {
		{"Passport", "documents"},
		{"Boarding pass", "documents"},
		{"Travel pillow", "comfort"},
		{"Noise-canceling headphones", "electronics"},
		{"TSA-approved toiletries", "essentials"},
	},
	domain.TravelModeTrain: {
		{"Train ticket", "documents"},
		{"ID card", "documents"},
		{"Snacks", "food"},
		{"Water bottle", "essentials"},
		{"Light blanket", "comfort"},
	},
	domain.TravelModeCar: {
		{"Driver's license", "documents"},
		{"Car insurance", "documents"},
		{"Vehicle registration", "documents"},
		{"Car emergency kit", "safety"},
		{"Car charger", "electronics"},
	},
	domain.TravelModeBike: {
		{"Helmet", "safety"},
		{"Bike repair kit", "tools"},
		{"Bike lock", "safety"},
		{"Water bottles", "essentials"},
		{"Bike lights", "safety"},
	},
}

// 目的地关键字 -> 推荐物品
var destinationItems = []struct {
	keywords []string
	items    []itemTemplate
}{
	{
		keywords: []string{"beach", "coast", "island"},
		items: []itemTemplate{
			{"Beach towel", "beach"},
			{"Swimwear", "clothing"},
			{"Waterproof phone case", "accessories"},
		},
	},
	{
		keywords: []string{"mountain", "hill", "trek"},
		items: []itemTemplate{
			{"Hiking boots", "footwear"},
			{"Walking poles", "equipment"},
			{"Trail map", "navigation"},
		},
	},
	{
		keywords: []string{"city", "town", "burg"},
		items: []itemTemplate{
			{"City map", "navigation"},
			{"Comfortable walking shoes", "footwear"},
			{"Transit card/pass", "transportation"},
		},
	},
}

// DefaultPackingList 返回新房间的初始清单：通用必需品加上出行方式相关物品
func DefaultPackingList(mode domain.TravelMode) domain.PackingList {
	list := make(domain.PackingList, 0, len(essentialItems)+5)
	list = appendTemplates(list, essentialItems)
	return appendTemplates(list, travelModeItems[mode])
}

// weatherSuggestions 根据目的地关键字和天气给出推荐物品
func weatherSuggestions(destination string, snap *weather.Snapshot) []itemTemplate {
	var out []itemTemplate
	dest := strings.ToLower(destination)
	for _, group := range destinationItems {
		for _, kw := range group.keywords {
			if strings.Contains(dest, kw) {
				out = append(out, group.items...)
				break
			}
		}
	}
	if snap == nil {
		return out
	}
	switch {
	case snap.TempC > 25:
		out = append(out, itemTemplate{"Sun protection", "health"}, itemTemplate{"Light clothing", "clothing"})
	case snap.TempC < 10:
		out = append(out, itemTemplate{"Winter coat", "clothing"}, itemTemplate{"Thermal layers", "clothing"})
	}
	if snap.Rainy() {
		out = append(out,
			itemTemplate{"Rain jacket", "clothing"},
			itemTemplate{"Umbrella", "accessories"},
			itemTemplate{"Waterproof shoes", "footwear"},
		)
	}
	return out
}

// mergeSuggestions 追加清单中还没有的物品 (按文本不区分大小写去重)
func mergeSuggestions(list domain.PackingList, suggestions []itemTemplate) (domain.PackingList, int) {
	out := list.Clone()
	added := 0
	for _, s := range suggestions {
		if out.HasText(s.text) {
			continue
		}
		out = append(out, newPackingItem(s.text, s.category))
		added++
	}
	return out, added
}

func appendTemplates(list domain.PackingList, templates []itemTemplate) domain.PackingList {
	for _, t := range templates {
		if !list.HasText(t.text) {
			list = append(list, newPackingItem(t.text, t.category))
		}
	}
	return list
}

func newPackingItem(text, category string) domain.PackingItem {
	return domain.PackingItem{ID: newItemID(), Text: text, Category: category}
}

// newItemID 生成 UUIDv7：毫秒时间戳加随机位，房间内唯一
func newItemID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
