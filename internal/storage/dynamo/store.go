package dynamo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/taiki-kuraishi/stock-price-predictor/internal/dataset"
)

// API is the slice of the DynamoDB client the store needs.
type API interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Store reads and writes the three predictor tables.
type Store struct {
	Client          API
	StockTable      string
	PredictionTable string
	LimitTable      string
}

// batchMax is the DynamoDB BatchWriteItem request cap.
const batchMax = 25

type barItem struct {
	Date     string `dynamodbav:"date"`
	Time     string `dynamodbav:"time"`
	Open     string `dynamodbav:"open"`
	High     string `dynamodbav:"high"`
	Low      string `dynamodbav:"low"`
	Close    string `dynamodbav:"close"`
	AdjClose string `dynamodbav:"adj_close"`
	Volume   string `dynamodbav:"volume"`
}

type limitItem struct {
	StockID   string `dynamodbav:"stock_id"`
	Operation string `dynamodbav:"operation"`
	Max       string `dynamodbav:"max"`
	CreateAt  string `dynamodbav:"create_at"`
}

func fromBar(b dataset.Bar) barItem {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return barItem{
		Date: b.Date, Time: b.Time,
		Open: f(b.Open), High: f(b.High), Low: f(b.Low), Close: f(b.Close),
		AdjClose: f(b.AdjClose), Volume: f(b.Volume),
	}
}

func (it barItem) bar() (dataset.Bar, error) {
	b := dataset.Bar{Date: it.Date, Time: it.Time}
	for _, fv := range []struct {
		dst *float64
		src string
		col string
	}{
		{&b.Open, it.Open, "open"}, {&b.High, it.High, "high"},
		{&b.Low, it.Low, "low"}, {&b.Close, it.Close, "close"},
		{&b.AdjClose, it.AdjClose, "adj_close"}, {&b.Volume, it.Volume, "volume"},
	} {
		v, err := strconv.ParseFloat(fv.src, 64)
		if err != nil {
			return dataset.Bar{}, fmt.Errorf("bar %s %s: column %s: %w", it.Date, it.Time, fv.col, err)
		}
		*fv.dst = v
	}
	return b, nil
}

// PutBars batch-writes bars to the stock table, 25 at a time, retrying
// unprocessed items.
func (s *Store) PutBars(ctx context.Context, bars []dataset.Bar) error {
	reqs := make([]types.WriteRequest, 0, len(bars))
	for _, b := range bars {
		item, err := attributevalue.MarshalMap(fromBar(b))
		if err != nil {
			return err
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	return s.batchWrite(ctx, s.StockTable, reqs)
}

func (s *Store) batchWrite(ctx context.Context, table string, reqs []types.WriteRequest) error {
	for len(reqs) > 0 {
		n := len(reqs)
		if n > batchMax {
			n = batchMax
		}
		chunk, rest := reqs[:n], reqs[n:]
		out, err := s.Client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{table: chunk},
		})
		if err != nil {
			return fmt.Errorf("batch write %s: %w", table, err)
		}
		reqs = append(out.UnprocessedItems[table], rest...)
	}
	return nil
}

// StockByDate returns all bars stored for one date, unsorted.
func (s *Store) StockByDate(ctx context.Context, date string) ([]dataset.Bar, error) {
	items, err := s.queryByDate(ctx, s.StockTable, date)
	if err != nil {
		return nil, err
	}
	return s.decodeBars(items)
}

// ScanStock returns every bar in the stock table.
func (s *Store) ScanStock(ctx context.Context) ([]dataset.Bar, error) {
	items, err := s.scanAll(ctx, s.StockTable)
	if err != nil {
		return nil, err
	}
	return s.decodeBars(items)
}

func (s *Store) decodeBars(items []map[string]types.AttributeValue) ([]dataset.Bar, error) {
	bars := make([]dataset.Bar, 0, len(items))
	for _, raw := range items {
		var it barItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, err
		}
		b, err := it.bar()
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func (s *Store) queryByDate(ctx context.Context, table, date string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var start map[string]types.AttributeValue
	for {
		out, err := s.Client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(table),
			KeyConditionExpression:    aws.String("#d = :date"),
			ExpressionAttributeNames:  map[string]string{"#d": "date"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":date": &types.AttributeValueMemberS{Value: date}},
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, fmt.Errorf("query %s date=%s: %w", table, date, err)
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (s *Store) scanAll(ctx context.Context, table string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var start map[string]types.AttributeValue
	for {
		out, err := s.Client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(table),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

// Watermark returns the limit table's "max" value for one operation, or ""
// when no row exists yet.
func (s *Store) Watermark(ctx context.Context, stockID, operation string) (string, error) {
	out, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.LimitTable),
		Key: map[string]types.AttributeValue{
			"stock_id":  &types.AttributeValueMemberS{Value: stockID},
			"operation": &types.AttributeValueMemberS{Value: operation},
		},
	})
	if err != nil {
		return "", fmt.Errorf("get watermark %s/%s: %w", stockID, operation, err)
	}
	if out.Item == nil {
		return "", nil
	}
	var it limitItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return "", err
	}
	return it.Max, nil
}

// SetWatermark upserts the limit row for one operation.
func (s *Store) SetWatermark(ctx context.Context, stockID, operation, max, createAt string) error {
	item, err := attributevalue.MarshalMap(limitItem{
		StockID: stockID, Operation: operation, Max: max, CreateAt: createAt,
	})
	if err != nil {
		return err
	}
	if _, err := s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.LimitTable),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put watermark %s/%s: %w", stockID, operation, err)
	}
	return nil
}
