package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
	"github.com/yuxki/dytrust/pkg/revocation"
)

// stubDynamoDB keeps items in memory and honors the attribute_exists
// conditions used by DynamoDBRepository. Scan returns one item per page.
type stubDynamoDB struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	order []string
	scans int
}

func newStubDynamoDB() *stubDynamoDB {
	return &stubDynamoDB{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(key map[string]types.AttributeValue) string {
	return key["key"].(*types.AttributeValueMemberS).Value
}

func (s *stubDynamoDB) GetItem(
	_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options),
) (*dynamodb.GetItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: s.items[itemKey(params.Key)]}, nil
}

func (s *stubDynamoDB) PutItem(
	_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options),
) (*dynamodb.PutItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := itemKey(params.Item)
	_, ok := s.items[key]
	switch aws.ToString(params.ConditionExpression) {
	case "attribute_not_exists(#k)":
		if ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	case "attribute_exists(#k)":
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	if !ok {
		s.order = append(s.order, key)
	}
	s.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (s *stubDynamoDB) DeleteItem(
	_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options),
) (*dynamodb.DeleteItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := itemKey(params.Key)
	if _, ok := s.items[key]; !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(s.items, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (s *stubDynamoDB) Scan(
	_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options),
) (*dynamodb.ScanOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++

	start := 0
	if params.ExclusiveStartKey != nil {
		last := itemKey(params.ExclusiveStartKey)
		for i, k := range s.order {
			if k == last {
				start = i + 1
			}
		}
	}
	out := &dynamodb.ScanOutput{}
	if start < len(s.order) {
		key := s.order[start]
		out.Items = []map[string]types.AttributeValue{s.items[key]}
		if start+1 < len(s.order) {
			out.LastEvaluatedKey = map[string]types.AttributeValue{
				"key": &types.AttributeValueMemberS{Value: key},
			}
		}
	}
	return out, nil
}

func TestDynamoDBRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	api := newStubDynamoDB()
	repo := NewDynamoDBRepository(api, aws.String("dytrust-tokens"), 5)

	now := time.Date(2033, 6, 9, 12, 33, 17, 0, time.UTC)
	first := stubEntry("crl:aa:01", revocation.Good, revocation.ReasonAbsent, now.Add(time.Hour)).Token
	second := stubEntry("crl:aa:02", revocation.Good, revocation.ReasonAbsent, now.Add(-time.Hour)).Token

	_, err := repo.Find(ctx, "crl:aa:01")
	require.ErrorIs(t, err, revocation.ErrNotFound)
	require.ErrorIs(t, repo.Update(ctx, "crl:aa:01", first), revocation.ErrNotFound)
	require.ErrorIs(t, repo.Remove(ctx, "crl:aa:01"), revocation.ErrNotFound)

	require.NoError(t, repo.Insert(ctx, "crl:aa:01", first))
	require.ErrorIs(t, repo.Insert(ctx, "crl:aa:01", first), revocation.ErrKeyExists)
	require.NoError(t, repo.Update(ctx, "crl:aa:01", first))
	require.NoError(t, repo.Insert(ctx, "crl:aa:02", second))

	got, err := repo.Find(ctx, "crl:aa:01")
	require.NoError(t, err)
	require.Equal(t, first.Digest(), got.Digest())

	entries, err := repo.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, 2, api.scans)

	left, err := Sweep(ctx, repo, NewExpirationControl(), now)
	require.NoError(t, err)
	require.Equal(t, 1, left)

	_, err = repo.Find(ctx, "crl:aa:02")
	require.ErrorIs(t, err, revocation.ErrNotFound)
}

func TestUnmarshalDynamoDBItem(t *testing.T) {
	t.Parallel()

	row := testRow(nil)
	item, err := attributevalue.MarshalMap(row)
	require.NoError(t, err)

	got, err := UnmarshalDynamoDBItem(item)
	require.NoError(t, err)
	require.Equal(t, row, got)

	delete(item, "raw")
	_, err = UnmarshalDynamoDBItem(item)
	require.EqualError(t, err, "member not found: raw")

	item["raw"] = &types.AttributeValueMemberN{Value: "1"}
	_, err = UnmarshalDynamoDBItem(item)
	require.EqualError(t, err, "unexpected member type found: raw")
}
