package analytics

import (
	"strconv"
	"strings"

	"finguru/internal/core"
)

const CategoryOther = "other"

type mccRange struct {
	from, to int
	category string
}

var mccTable = []mccRange{
	{5411, 5412, "groceries"},
	{5812, 5814, "restaurants"},
	{5541, 5542, "gas"},
	{5912, 5912, "pharmacy"},
	{5311, 5311, "shopping"},
	{4111, 4111, "transport"},
	{4121, 4121, "transport"},
	{4131, 4131, "transport"},
	{7832, 7832, "entertainment"},
}

type keywordRule struct {
	category string
	words    []string
}

// Checked in order; the first rule with a matching word wins.
var keywordTable = []keywordRule{
	{"groceries", []string{"магазин", "супермаркет", "продукты", "store", "grocery", "supermarket"}},
	{"restaurants", []string{"ресторан", "кафе", "restaurant", "cafe", "coffee"}},
	{"gas", []string{"заправка", "бензин", "азс", "gas", "fuel"}},
	{"pharmacy", []string{"аптека", "pharmacy"}},
	{"transport", []string{"транспорт", "метро", "такси", "transport", "metro", "taxi", "uber"}},
	{"entertainment", []string{"развлечения", "кино", "entertainment", "cinema"}},
}

// Categorize assigns a spending category: by MCC when the code is known,
// otherwise by description keyword, otherwise "other".
func Categorize(tx core.Transaction) string {
	if tx.MCC != nil {
		if cat, ok := categoryForMCC(*tx.MCC); ok {
			return cat
		}
	}
	if tx.Description != nil {
		if cat, ok := categoryForDescription(*tx.Description); ok {
			return cat
		}
	}
	return CategoryOther
}

func categoryForMCC(mcc string) (string, bool) {
	code, err := strconv.Atoi(strings.TrimSpace(mcc))
	if err != nil {
		return "", false
	}
	for _, r := range mccTable {
		if code >= r.from && code <= r.to {
			return r.category, true
		}
	}
	return "", false
}

func categoryForDescription(desc string) (string, bool) {
	desc = strings.ToLower(desc)
	for _, rule := range keywordTable {
		for _, w := range rule.words {
			if strings.Contains(desc, w) {
				return rule.category, true
			}
		}
	}
	return "", false
}
