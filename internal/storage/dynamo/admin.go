package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Admin performs table-level operations used by init-tables. It needs the
// full client for the table-exists waiter.
type Admin struct {
	Client *dynamodb.Client
}

// EnsureTables creates the three predictor tables (on-demand billing) and
// waits until they are active. Existing tables are left alone.
func (a *Admin) EnsureTables(ctx context.Context, stockTable, predictionTable, limitTable string) error {
	specs := []struct {
		name    string
		hash    string
		rangeKy string
	}{
		{stockTable, "date", "time"},
		{predictionTable, "date", "time"},
		{limitTable, "stock_id", "operation"},
	}
	for _, spec := range specs {
		_, err := a.Client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName:   aws.String(spec.name),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(spec.hash), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(spec.rangeKy), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(spec.hash), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(spec.rangeKy), KeyType: types.KeyTypeRange},
			},
		})
		if err != nil {
			var exists *types.ResourceInUseException
			if !errors.As(err, &exists) {
				return fmt.Errorf("create table %s: %w", spec.name, err)
			}
		}
		waiter := dynamodb.NewTableExistsWaiter(a.Client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(spec.name),
		}, 5*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", spec.name, err)
		}
	}
	return nil
}

// purge deletes every item in a table keyed by (hashKey, rangeKey).
func (s *Store) purge(ctx context.Context, table, hashKey, rangeKey string) error {
	items, err := s.scanAll(ctx, table)
	if err != nil {
		return err
	}
	reqs := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
			Key: map[string]types.AttributeValue{
				hashKey:  item[hashKey],
				rangeKey: item[rangeKey],
			},
		}})
	}
	return s.batchWrite(ctx, table, reqs)
}

func (s *Store) PurgeStock(ctx context.Context) error {
	return s.purge(ctx, s.StockTable, "date", "time")
}

func (s *Store) PurgePredictions(ctx context.Context) error {
	return s.purge(ctx, s.PredictionTable, "date", "time")
}

func (s *Store) PurgeLimits(ctx context.Context) error {
	return s.purge(ctx, s.LimitTable, "stock_id", "operation")
}
