package storage

import "context"

// ScanAll follows continuation tokens until the scan is exhausted.
func ScanAll(ctx context.Context, t Table, filter Filter) ([]Item, error) {
	var items []Item
	in := ScanInput{Filter: filter}
	for {
		page, err := t.Scan(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if page.Next == "" {
			return items, nil
		}
		in.StartToken = page.Next
	}
}

// QueryAll reads a whole partition in sort key order.
func QueryAll(ctx context.Context, t Table, pk string, descending bool) ([]Item, error) {
	var items []Item
	in := QueryInput{PK: pk, Descending: descending}
	for {
		page, err := t.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if page.Next == "" {
			return items, nil
		}
		in.StartToken = page.Next
	}
}

func String(item Item, attr string) string {
	s, _ := item[attr].(string)
	return s
}

func Float(item Item, attr string) float64 {
	switch v := item[attr].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func Bool(item Item, attr string) bool {
	b, _ := item[attr].(bool)
	return b
}
