package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI is the subset of *dynamodb.Client the session tier uses.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type sessionItem struct {
	Key       string `dynamodbav:"session_key"`
	Value     string `dynamodbav:"value"`
	UpdatedAt string `dynamodbav:"updated_at"`
	ExpiresAt int64  `dynamodbav:"expires_at,omitempty"`
}

// DynamoDBProvider is the primary tier. The table needs a string partition
// key session_key and TTL enabled on expires_at. Expired items can linger
// until DynamoDB deletes them, so reads check expires_at too.
type DynamoDBProvider struct {
	ddb       DynamoDBAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewDynamoDBProvider(ddb DynamoDBAPI, tableName string, ttl time.Duration) *DynamoDBProvider {
	return &DynamoDBProvider{ddb: ddb, tableName: tableName, ttl: ttl, now: time.Now}
}

func (p *DynamoDBProvider) Name() string { return "dynamodb" }

func (p *DynamoDBProvider) TrySet(ctx context.Context, key, value string) error {
	now := p.now().UTC()
	it := sessionItem{Key: key, Value: value, UpdatedAt: now.Format(time.RFC3339)}
	if p.ttl > 0 {
		it.ExpiresAt = now.Add(p.ttl).Unix()
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return err
	}
	_, err = p.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put: %w", err)
	}
	return nil
}

func (p *DynamoDBProvider) TryGet(ctx context.Context, key string) (string, bool, error) {
	out, err := p.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(p.tableName),
		Key: map[string]types.AttributeValue{
			"session_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("dynamodb get: %w", err)
	}
	if len(out.Item) == 0 {
		return "", false, nil
	}

	var it sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return "", false, err
	}
	if it.ExpiresAt > 0 && it.ExpiresAt <= p.now().Unix() {
		return "", false, nil
	}
	return it.Value, true, nil
}

func (p *DynamoDBProvider) TryRemove(ctx context.Context, key string) error {
	_, err := p.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(p.tableName),
		Key: map[string]types.AttributeValue{
			"session_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete: %w", err)
	}
	return nil
}
