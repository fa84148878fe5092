package dynamo

import (
	"context"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PredictionRow is one prediction item: the bar it was made from plus one
// predicted close per horizon.
type PredictionRow struct {
	Date     string
	Time     string
	CreateAt string
	Values   map[int]float64 // horizon in hours -> predicted close
}

// SortPredictions orders rows chronologically by date+time.
func SortPredictions(rows []PredictionRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].Time < rows[j].Time
	})
}

func (r PredictionRow) item() map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"date":      &types.AttributeValueMemberS{Value: r.Date},
		"time":      &types.AttributeValueMemberS{Value: r.Time},
		"create_at": &types.AttributeValueMemberS{Value: r.CreateAt},
	}
	for h, v := range r.Values {
		item[strconv.Itoa(h)] = &types.AttributeValueMemberN{
			Value: strconv.FormatFloat(v, 'f', -1, 64),
		}
	}
	return item
}

func predictionFromItem(item map[string]types.AttributeValue) (PredictionRow, error) {
	row := PredictionRow{Values: map[int]float64{}}
	for k, av := range item {
		switch k {
		case "date":
			row.Date = stringAttr(av)
		case "time":
			row.Time = stringAttr(av)
		case "create_at":
			row.CreateAt = stringAttr(av)
		default:
			h, err := strconv.Atoi(k)
			if err != nil {
				continue // not a horizon column
			}
			v, err := strconv.ParseFloat(numericAttr(av), 64)
			if err != nil {
				return PredictionRow{}, err
			}
			row.Values[h] = v
		}
	}
	return row, nil
}

func stringAttr(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func numericAttr(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberS:
		return v.Value
	}
	return ""
}

// PutPredictions batch-writes prediction rows.
func (s *Store) PutPredictions(ctx context.Context, rows []PredictionRow) error {
	reqs := make([]types.WriteRequest, 0, len(rows))
	for _, r := range rows {
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: r.item()}})
	}
	return s.batchWrite(ctx, s.PredictionTable, reqs)
}

// PredictionsByDate returns the rows stored for one date.
func (s *Store) PredictionsByDate(ctx context.Context, date string) ([]PredictionRow, error) {
	items, err := s.queryByDate(ctx, s.PredictionTable, date)
	if err != nil {
		return nil, err
	}
	return decodePredictions(items)
}

// ScanPredictions returns every prediction row. Fallback path when nothing
// was predicted today yet.
func (s *Store) ScanPredictions(ctx context.Context) ([]PredictionRow, error) {
	items, err := s.scanAll(ctx, s.PredictionTable)
	if err != nil {
		return nil, err
	}
	return decodePredictions(items)
}

func decodePredictions(items []map[string]types.AttributeValue) ([]PredictionRow, error) {
	rows := make([]PredictionRow, 0, len(items))
	for _, it := range items {
		row, err := predictionFromItem(it)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
