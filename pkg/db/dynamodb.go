package db

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/yuxki/dytrust/pkg/revocation"
)

// DynamoDBAPI is the part of *dynamodb.Client used by DynamoDBRepository.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// The DynamoDBRepository is an implementation of the revocation.Repository
// interface. The table has the "key" string attribute as its hash key.
type DynamoDBRepository struct {
	client    DynamoDBAPI
	tableName *string
	timeout   int
	exchange  RowExchange
}

// NewDynamoDBRepository creates and returns new DynamoDBRepository instance.
// timeout is the number of seconds allowed for one API call, or for a whole
// Scan.
func NewDynamoDBRepository(
	client DynamoDBAPI,
	tableName *string,
	timeout int,
) DynamoDBRepository {
	return DynamoDBRepository{
		client:    client,
		tableName: tableName,
		timeout:   timeout,
		exchange:  NewRowExchange(),
	}
}

type unmarshalFailedError struct {
	attr string
	msg  string
}

func (e unmarshalFailedError) Error() string {
	return e.msg + ": " + e.attr
}

func unmarshalItem(item map[string]types.AttributeValue, attrName string) (string, error) {
	absAttr, ok := item[attrName]
	if !ok {
		return "", unmarshalFailedError{
			attr: attrName,
			msg:  "member not found",
		}
	}
	conAttr, ok := absAttr.(*types.AttributeValueMemberS)
	if !ok {
		return "", unmarshalFailedError{
			attr: attrName,
			msg:  "unexpected member type found",
		}
	}

	return conAttr.Value, nil
}

// UnmarshalDynamoDBItem unmarshals the item data retrieved from the DynamoDB
// read API into a Row. The required attributes must be strings.
func UnmarshalDynamoDBItem(item map[string]types.AttributeValue) (Row, error) {
	for _, attr := range []string{"key", "row_id", "type", "status", "serial", "this_update", "raw"} {
		if _, err := unmarshalItem(item, attr); err != nil {
			return Row{}, err
		}
	}

	var row Row
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return Row{}, err
	}
	return row, nil
}

func (d DynamoDBRepository) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key": &types.AttributeValueMemberS{Value: key},
	}
}

func (d DynamoDBRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Second*time.Duration(d.timeout))
}

func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// Find returns the token stored under key.
func (d DynamoDBRepository) Find(ctx context.Context, key string) (*revocation.Token, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      d.tableName,
		Key:            d.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, revocation.ErrNotFound
	}

	row, err := UnmarshalDynamoDBItem(out.Item)
	if err != nil {
		return nil, err
	}
	entry := d.exchange.ParseRow(row)
	if err := entry.Err(); err != nil {
		return nil, err
	}
	return entry.Token, nil
}

func (d DynamoDBRepository) put(ctx context.Context, key string, tok *revocation.Token, cond string) error {
	if err := tok.Validate(); err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(d.exchange.FormatRow(key, tok))
	if err != nil {
		return err
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                d.tableName,
		Item:                     item,
		ConditionExpression:      aws.String(cond),
		ExpressionAttributeNames: map[string]string{"#k": "key"},
	})
	return err
}

// Insert stores tok under a new key.
func (d DynamoDBRepository) Insert(ctx context.Context, key string, tok *revocation.Token) error {
	err := d.put(ctx, key, tok, "attribute_not_exists(#k)")
	if conditionFailed(err) {
		return revocation.ErrKeyExists
	}
	return err
}

// Update replaces the token stored under a known key.
func (d DynamoDBRepository) Update(ctx context.Context, key string, tok *revocation.Token) error {
	err := d.put(ctx, key, tok, "attribute_exists(#k)")
	if conditionFailed(err) {
		return revocation.ErrNotFound
	}
	return err
}

// Remove deletes the token stored under key.
func (d DynamoDBRepository) Remove(ctx context.Context, key string) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                d.tableName,
		Key:                      d.keyAttr(key),
		ConditionExpression:      aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": "key"},
	})
	if conditionFailed(err) {
		return revocation.ErrNotFound
	}
	return err
}

// Scan reads all items from the table and parses them into row entries.
// Items without the required attributes are skipped.
func (d DynamoDBRepository) Scan(ctx context.Context) ([]RowEntry, error) {
	var input dynamodb.ScanInput
	input.TableName = d.tableName

	items := make([]map[string]types.AttributeValue, 0)
	var lastEvaluatedKey map[string]types.AttributeValue

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	for {
		input.ExclusiveStartKey = lastEvaluatedKey

		out, err := d.client.Scan(ctx, &input)
		if err != nil {
			return nil, err
		}

		items = append(items, out.Items...)

		if out.LastEvaluatedKey != nil {
			lastEvaluatedKey = out.LastEvaluatedKey
			continue
		}
		break
	}

	entries := make([]RowEntry, 0, len(items))
	for i := range items {
		row, err := UnmarshalDynamoDBItem(items[i])
		if err != nil {
			continue
		}
		entries = append(entries, d.exchange.ParseRow(row))
	}

	return entries, nil
}
