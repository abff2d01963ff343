package maintenance

import (
	"context"
	"fmt"
	"log/slog"

	"pat-backend/internal/storage"
)

// BatchSize matches the DynamoDB BatchWriteItem limit.
const BatchSize = 25

// ScanAll returns every row of table.
func ScanAll(ctx context.Context, table storage.Table) ([]storage.Item, error) {
	const fn = "Maintenance:ScanAll"
	items, err := storage.ScanAll(ctx, table, nil)
	if err != nil {
		return nil, fmt.Errorf("%s:%s:%w", fn, table.Name(), err)
	}
	return items, nil
}

// DeleteAll clears table page by page. Rows are deleted in batches as each
// page is read, so a failure leaves the table partially cleared.
func DeleteAll(ctx context.Context, table storage.Table) (int, error) {
	const fn = "Maintenance:DeleteAll"
	schema := table.Schema()
	deleted := 0
	in := storage.ScanInput{}
	for {
		page, err := table.Scan(ctx, in)
		if err != nil {
			return deleted, fmt.Errorf("%s:%s:%w", fn, table.Name(), err)
		}

		keys := make([]storage.Key, 0, len(page.Items))
		for _, item := range page.Items {
			key, err := schema.KeyOf(item)
			if err != nil {
				return deleted, fmt.Errorf("%s:%s:%w", fn, table.Name(), err)
			}
			keys = append(keys, key)
		}
		for start := 0; start < len(keys); start += BatchSize {
			end := min(start+BatchSize, len(keys))
			if err := table.BatchDelete(ctx, keys[start:end]); err != nil {
				return deleted, fmt.Errorf("%s:%s:%w", fn, table.Name(), err)
			}
			deleted += end - start
		}

		if page.Next == "" {
			break
		}
		in.StartToken = page.Next
	}
	slog.InfoContext(ctx, "Cleared table", "table", table.Name(), "count", deleted)
	return deleted, nil
}
