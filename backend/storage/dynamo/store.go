package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adwski/blinddate/backend/model"
	"github.com/adwski/blinddate/backend/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Table names, prefixed with Config.TablePrefix.
const (
	InterestsTable     = "Interests"
	MatchesTable       = "Matches"
	NotificationsTable = "Notifications"
	ProfilesTable      = "Profiles"
	CallsTable         = "Calls"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

type Config struct {
	Region      string
	Endpoint    string
	TablePrefix string
}

type Store struct {
	client API
	prefix string
}

// NewClient builds a DynamoDB client from the default AWS credential chain.
func NewClient(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func NewStore(client API, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) table(name string) *string {
	return aws.String(s.prefix + name)
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: s.table(MatchesTable)})
	if err != nil {
		return fmt.Errorf("describe table: %w", err)
	}
	return nil
}

type interestItem struct {
	model.Interest
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
}

func interestKey(likerID, targetID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "USER#" + likerID},
		"SK": &types.AttributeValueMemberS{Value: "INTEREST#" + targetID},
	}
}

func (s *Store) UpsertInterest(ctx context.Context, in model.Interest) error {
	item := interestItem{Interest: in, PK: "USER#" + in.LikerID, SK: "INTEREST#" + in.TargetID}
	if _, err := s.putIfAbsent(ctx, InterestsTable, "PK", item); err != nil {
		return fmt.Errorf("upsert interest: %w", err)
	}
	return nil
}

func (s *Store) GetInterest(ctx context.Context, likerID, targetID string) (model.Interest, error) {
	var item interestItem
	if err := s.get(ctx, InterestsTable, interestKey(likerID, targetID), &item); err != nil {
		return model.Interest{}, err
	}
	return item.Interest, nil
}

func (s *Store) UpsertMatch(ctx context.Context, m model.Match) (bool, error) {
	created, err := s.putIfAbsent(ctx, MatchesTable, "matchId", m)
	if err != nil {
		return false, fmt.Errorf("upsert match: %w", err)
	}
	return created, nil
}

func (s *Store) GetMatch(ctx context.Context, id string) (model.Match, error) {
	var m model.Match
	err := s.get(ctx, MatchesTable, stringKey("matchId", id), &m)
	return m, err
}

func (s *Store) UpsertNotification(ctx context.Context, n model.Notification) (bool, error) {
	created, err := s.putIfAbsent(ctx, NotificationsTable, "notificationId", n)
	if err != nil {
		return false, fmt.Errorf("upsert notification: %w", err)
	}
	return created, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (model.Profile, error) {
	var p model.Profile
	err := s.get(ctx, ProfilesTable, stringKey("userId", id), &p)
	return p, err
}

func (s *Store) CreateCall(ctx context.Context, c model.Call) error {
	created, err := s.putIfAbsent(ctx, CallsTable, "callId", c)
	if err != nil {
		return fmt.Errorf("create call: %w", err)
	}
	if !created {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) GetCall(ctx context.Context, id string) (model.Call, error) {
	var c model.Call
	err := s.get(ctx, CallsTable, stringKey("callId", id), &c)
	return c, err
}

func (s *Store) ResolveCall(ctx context.Context, id string, status model.CallStatus, at time.Time) (model.Call, error) {
	updatedAt, err := attributevalue.Marshal(at)
	if err != nil {
		return model.Call{}, fmt.Errorf("marshal timestamp: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           s.table(CallsTable),
		Key:                 stringKey("callId", id),
		UpdateExpression:    aws.String("SET #status = :status, #updatedAt = :updatedAt"),
		ConditionExpression: aws.String("attribute_exists(callId) AND #status = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#status":    "status",
			"#updatedAt": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":    &types.AttributeValueMemberS{Value: string(status)},
			":pending":   &types.AttributeValueMemberS{Value: string(model.CallStatusPending)},
			":updatedAt": updatedAt,
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if !isConditionFailed(err) {
			return model.Call{}, fmt.Errorf("resolve call: %w", err)
		}
		current, getErr := s.GetCall(ctx, id)
		if getErr != nil {
			return model.Call{}, getErr
		}
		return current, storage.ErrConflict
	}

	var c model.Call
	if err = attributevalue.UnmarshalMap(out.Attributes, &c); err != nil {
		return model.Call{}, fmt.Errorf("unmarshal call: %w", err)
	}
	return c, nil
}

// putIfAbsent writes item unless a row with the same key exists.
// It reports whether the row was created.
func (s *Store) putIfAbsent(ctx context.Context, table, keyAttr string, item any) (bool, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return false, fmt.Errorf("marshal item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           s.table(table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{
			"#pk": keyAttr,
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) get(ctx context.Context, table string, key map[string]types.AttributeValue, out any) error {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      s.table(table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("get item from table '%s': %w", table, err)
	}
	if res.Item == nil {
		return storage.ErrNotFound
	}
	if err = attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("unmarshal item from table '%s': %w", table, err)
	}
	return nil
}

func stringKey(attr, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attr: &types.AttributeValueMemberS{Value: value},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
