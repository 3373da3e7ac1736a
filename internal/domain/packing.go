package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// PackingItem 行李清单中的一项。Category 仅用于展示分组。
type PackingItem struct {
	ID       string `json:"id"`
	Text     string `json:"item"`
	Checked  bool   `json:"checked"`
	Category string `json:"category"`
}

// PackingList 作为一个 JSON 列嵌入在 rooms 表中。
type PackingList []PackingItem

// Value 实现 driver.Valuer
func (l PackingList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal packing list: %w", err)
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (l *PackingList) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*l = PackingList{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported packing list column type %T", value)
	}
	if len(data) == 0 {
		*l = PackingList{}
		return nil
	}
	var items PackingList
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to unmarshal packing list: %w", err)
	}
	*l = items
	return nil
}

// Clone 复制清单。
func (l PackingList) Clone() PackingList {
	if l == nil {
		return nil
	}
	c := make(PackingList, len(l))
	copy(c, l)
	return c
}

// Index 返回指定 ID 的下标，不存在时返回 -1。
func (l PackingList) Index(id string) int {
	for i := range l {
		if l[i].ID == id {
			return i
		}
	}
	return -1
}

// Toggle 返回翻转了指定项 checked 状态的新清单；找不到时 ok 为 false。
func (l PackingList) Toggle(id string) (PackingList, bool) {
	i := l.Index(id)
	if i < 0 {
		return l, false
	}
	c := l.Clone()
	c[i].Checked = !c[i].Checked
	return c, true
}

// Without 返回去掉指定项后的新清单。
func (l PackingList) Without(id string) (PackingList, bool) {
	i := l.Index(id)
	if i < 0 {
		return l, false
	}
	c := make(PackingList, 0, len(l)-1)
	c = append(c, l[:i]...)
	return append(c, l[i+1:]...), true
}

// HasText 按不区分大小写的文本判断清单中是否已有该物品。
func (l PackingList) HasText(text string) bool {
	for i := range l {
		if strings.EqualFold(l[i].Text, text) {
			return true
		}
	}
	return false
}

// GroupByCategory 按分类分组，保持原有顺序。
func (l PackingList) GroupByCategory() (categories []string, groups map[string]PackingList) {
	groups = make(map[string]PackingList)
	for _, item := range l {
		if _, ok := groups[item.Category]; !ok {
			categories = append(categories, item.Category)
		}
		groups[item.Category] = append(groups[item.Category], item)
	}
	return categories, groups
}
