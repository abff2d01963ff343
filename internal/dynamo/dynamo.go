package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"pat-backend/internal/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// maxBatchWrite is the BatchWriteItem request limit.
const maxBatchWrite = 25

var ErrUnprocessed = errors.New("unprocessed batch items")

// API is the subset of *dynamodb.Client used by Table.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

type Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewClient builds a DynamoDB client. Endpoint points it at DynamoDB Local;
// static credentials are only used when an access key is configured.
func NewClient(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	const fn = "Dynamo:NewClient"
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s:%w:%w", fn, storage.ErrUnavailable, err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

type Table struct {
	api    API
	name   string
	schema storage.Schema
}

func NewTable(api API, name string, schema storage.Schema) *Table {
	return &Table{api: api, name: name, schema: schema}
}

func (t *Table) Name() string           { return t.name }
func (t *Table) Schema() storage.Schema { return t.schema }

func (t *Table) Get(ctx context.Context, key storage.Key) (storage.Item, error) {
	const fn = "Dynamo:Get"
	resp, err := t.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.name),
		Key:            t.keyAV(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, t.wrap(fn, key, err)
	}
	if resp.Item == nil {
		return nil, nil
	}
	return unmarshal(resp.Item)
}

func (t *Table) Put(ctx context.Context, item storage.Item) error {
	const fn = "Dynamo:Put"
	key, err := t.schema.KeyOf(item)
	if err != nil {
		return fmt.Errorf("%s:%w", fn, err)
	}
	av, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return fmt.Errorf("%s:%w", fn, err)
	}
	_, err = t.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.name),
		Item:      av,
	})
	if err != nil {
		return t.wrap(fn, key, err)
	}
	return nil
}

// Delete asks for the old image so a delete under a key that matched nothing is visible.
func (t *Table) Delete(ctx context.Context, key storage.Key) (bool, error) {
	const fn = "Dynamo:Delete"
	resp, err := t.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(t.name),
		Key:          t.keyAV(key),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, t.wrap(fn, key, err)
	}
	return len(resp.Attributes) > 0, nil
}

func (t *Table) Query(ctx context.Context, in storage.QueryInput) (storage.Page, error) {
	const fn = "Dynamo:Query"
	input := &dynamodb.QueryInput{
		TableName:                aws.String(t.name),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{"#pk": t.schema.PartitionAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: in.PK},
		},
		ScanIndexForward: aws.Bool(!in.Descending),
	}
	if in.Limit > 0 {
		input.Limit = aws.Int32(int32(in.Limit))
	}
	if in.StartToken != "" {
		start, err := storage.DecodeToken(in.StartToken)
		if err != nil {
			return storage.Page{}, fmt.Errorf("%s:%w", fn, err)
		}
		input.ExclusiveStartKey = t.keyAV(start)
	}

	resp, err := t.api.Query(ctx, input)
	if err != nil {
		return storage.Page{}, t.wrap(fn, storage.Key{PK: in.PK}, err)
	}
	return t.page(resp.Items, resp.LastEvaluatedKey)
}

func (t *Table) Scan(ctx context.Context, in storage.ScanInput) (storage.Page, error) {
	const fn = "Dynamo:Scan"
	input := &dynamodb.ScanInput{TableName: aws.String(t.name)}
	if len(in.Filter) > 0 {
		expr, names, values := filterExpression(in.Filter)
		input.FilterExpression = aws.String(expr)
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}
	if in.Limit > 0 {
		input.Limit = aws.Int32(int32(in.Limit))
	}
	if in.StartToken != "" {
		start, err := storage.DecodeToken(in.StartToken)
		if err != nil {
			return storage.Page{}, fmt.Errorf("%s:%w", fn, err)
		}
		input.ExclusiveStartKey = t.keyAV(start)
	}

	resp, err := t.api.Scan(ctx, input)
	if err != nil {
		return storage.Page{}, t.wrap(fn, storage.Key{}, err)
	}
	return t.page(resp.Items, resp.LastEvaluatedKey)
}

func (t *Table) BatchDelete(ctx context.Context, keys []storage.Key) error {
	const fn = "Dynamo:BatchDelete"
	for start := 0; start < len(keys); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(keys))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: t.keyAV(key)}})
		}
		resp, err := t.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{t.name: reqs},
		})
		if err != nil {
			return t.wrap(fn, keys[start], err)
		}
		if n := len(resp.UnprocessedItems[t.name]); n > 0 {
			return fmt.Errorf("%s:%w:%w:%d", fn, storage.ErrUnavailable, ErrUnprocessed, n)
		}
	}
	return nil
}

func (t *Table) keyAV(key storage.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		t.schema.PartitionAttr: &types.AttributeValueMemberS{Value: key.PK},
		t.schema.SortAttr:      &types.AttributeValueMemberS{Value: key.SK},
	}
}

func (t *Table) page(raw []map[string]types.AttributeValue, last map[string]types.AttributeValue) (storage.Page, error) {
	page := storage.Page{Items: make([]storage.Item, 0, len(raw))}
	for _, av := range raw {
		item, err := unmarshal(av)
		if err != nil {
			return storage.Page{}, err
		}
		page.Items = append(page.Items, item)
	}
	if len(last) > 0 {
		lastItem, err := unmarshal(last)
		if err != nil {
			return storage.Page{}, err
		}
		key, err := t.schema.KeyOf(lastItem)
		if err != nil {
			return storage.Page{}, err
		}
		page.Next = storage.EncodeToken(key)
	}
	return page, nil
}

func (t *Table) wrap(fn string, key storage.Key, err error) error {
	return fmt.Errorf("%s:%w:%s[%s/%s]:%w", fn, storage.ErrUnavailable, t.name, key.PK, key.SK, err)
}

func unmarshal(av map[string]types.AttributeValue) (storage.Item, error) {
	item := storage.Item{}
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("Dynamo:unmarshal:%w", err)
	}
	return item, nil
}

// filterExpression renders equality conditions in attribute order so requests are stable.
func filterExpression(filter storage.Filter) (string, map[string]string, map[string]types.AttributeValue) {
	attrs := make([]string, 0, len(filter))
	for attr := range filter {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	names := make(map[string]string, len(attrs))
	values := make(map[string]types.AttributeValue, len(attrs))
	conds := make([]string, 0, len(attrs))
	for i, attr := range attrs {
		n, v := "#f"+strconv.Itoa(i), ":f"+strconv.Itoa(i)
		names[n] = attr
		values[v] = &types.AttributeValueMemberS{Value: filter[attr]}
		conds = append(conds, n+" = "+v)
	}
	return strings.Join(conds, " AND "), names, values
}
