package store

import "context"

// searchBatchSize is how many rows SearchReports reads per query.
var searchBatchSize = 200

// SearchReports lists reports matching filter and, when match is set, keeps
// only those it accepts. Limit and Offset count matched reports, so pages are
// assembled from as many store batches as needed.
func SearchReports(ctx context.Context, s Store, filter ReportFilter, match func(*Report) (bool, error)) ([]*Report, error) {
	if match == nil {
		return s.ListReports(ctx, filter)
	}

	var matched []*Report
	skipped := 0
	batch := filter
	batch.Limit = searchBatchSize
	for batch.Offset = 0; ; batch.Offset += searchBatchSize {
		rows, err := s.ListReports(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			ok, err := match(r)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			matched = append(matched, r)
			if filter.Limit > 0 && len(matched) == filter.Limit {
				return matched, nil
			}
		}
		if len(rows) < searchBatchSize {
			return matched, nil
		}
	}
}
