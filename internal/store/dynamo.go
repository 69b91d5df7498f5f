package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// skValue is the sort key shared by every coordination record; the whole
// key lives in PK.
const skValue = "KV"

// dynamoAPI is the subset of the DynamoDB client the store uses.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore implements Store on a DynamoDB table with PK/SK string keys
// and a numeric expiresAt TTL attribute.
//
// DynamoDB deletes expired items lazily (up to days later), so reads and
// conditional writes compare expiresAt against the current time themselves.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

// Compile-time interface check.
var _ Store = (*DynamoStore)(nil)

// kvItem is the stored shape; PK, SK and expiresAt are set explicitly.
type kvItem struct {
	Value     string `dynamodbav:"value"`
	UpdatedAt int64  `dynamodbav:"updatedAt"`
}

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func (s *DynamoStore) key(k string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: k},
		"SK": &types.AttributeValueMemberS{Value: skValue},
	}
}

func (s *DynamoStore) item(k, value string, ttl time.Duration) (map[string]types.AttributeValue, error) {
	now := s.now()
	item, err := attributevalue.MarshalMap(kvItem{Value: value, UpdatedAt: now.UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: k}
	item["SK"] = &types.AttributeValueMemberS{Value: skValue}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).Unix(), 10)}
	return item, nil
}

// Get reads the value with a consistent read; expired items count as absent.
func (s *DynamoStore) Get(ctx context.Context, key string) (string, bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("GetItem PK=%s: %w", key, err)
	}
	if result.Item == nil {
		return "", false, nil
	}
	if exp, ok := result.Item["expiresAt"].(*types.AttributeValueMemberN); ok {
		if sec, err := strconv.ParseInt(exp.Value, 10, 64); err == nil && sec <= s.now().Unix() {
			return "", false, nil
		}
	}
	var it kvItem
	if err := attributevalue.UnmarshalMap(result.Item, &it); err != nil {
		return "", false, fmt.Errorf("unmarshal PK=%s: %w", key, err)
	}
	return it.Value, true, nil
}

// Set writes the value unconditionally.
func (s *DynamoStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	item, err := s.item(key, value, ttl)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s: %w", key, err)
	}
	return nil
}

// SetIfAbsent writes the value only when no live item exists, using a
// conditional PutItem so concurrent callers race inside DynamoDB.
func (s *DynamoStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	item, err := s.item(key, value, ttl)
	if err != nil {
		return false, err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR expiresAt <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			log.Debug().Str("key", key).Msg("Conditional put lost: key already held")
			return false, nil
		}
		return false, fmt.Errorf("PutItem (conditional) PK=%s: %w", key, err)
	}
	return true, nil
}

// Delete removes the item.
func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key:       s.key(key),
	})
	if err != nil {
		return fmt.Errorf("DeleteItem PK=%s: %w", key, err)
	}
	return nil
}

// DeleteIfValue deletes the item with a conditional DeleteItem on its value.
// An expired item counts as absent and is left for the TTL sweeper.
func (s *DynamoStore) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(key),
		ConditionExpression: aws.String("#v = :value AND expiresAt > :now"),
		ExpressionAttributeNames: map[string]string{
			"#v": "value",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": &types.AttributeValueMemberS{Value: value},
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("DeleteItem (conditional) PK=%s: %w", key, err)
	}
	return true, nil
}
