package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"patient-intake/internal/domain"
)

const (
	pkPrefixConv = "CONV#"
	skPrefixRec  = "REC#"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps a DynamoDB table holding one record per completed intake.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

type Option func(*Client)

// WithTTL sets the retention of written records. Zero keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(c *Client) {
		c.ttl = d
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return pkPrefixConv + conversationID
}

// recSK returns the sort key for a record captured at ts.
func recSK(ts time.Time) string {
	return skPrefixRec + ts.UTC().Format(time.RFC3339)
}

// PutRecord writes the record for a completed intake. A retry of the same
// submission has the same keys and replaces the earlier item.
func (c *Client) PutRecord(ctx context.Context, rec domain.Record) error {
	if strings.TrimSpace(rec.ConversationID) == "" {
		return errors.New("repository: PutRecord: conversation id is required")
	}
	if rec.CapturedAt.IsZero() {
		return errors.New("repository: PutRecord: captured at is required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      c.recordItem(rec),
	})
	if err != nil {
		return fmt.Errorf("repository: PutRecord: %w", err)
	}
	return nil
}

// ListRecords returns up to limit records of a conversation, newest first.
func (c *Client) ListRecords(ctx context.Context, conversationID string, limit int) ([]domain.Record, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixRec},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(min(limit, math.MaxInt32)))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListRecords query: %w", err)
	}

	recs := make([]domain.Record, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := itemToRecord(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListRecords unmarshal: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (c *Client) recordItem(rec domain.Record) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(rec.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: recSK(rec.CapturedAt)},
		"conversationId": &types.AttributeValueMemberS{Value: rec.ConversationID},
		"patientId":      &types.AttributeValueMemberS{Value: rec.PatientID},
		"timestamp":      &types.AttributeValueMemberS{Value: rec.CapturedAt.UTC().Format(time.RFC3339)},
		"imageUrl":       &types.AttributeValueMemberS{Value: rec.ArtifactLocation},
		"noteUrl":        &types.AttributeValueMemberS{Value: rec.NoteLocation},
		"description":    &types.AttributeValueMemberS{Value: rec.Description},
		"contentType":    &types.AttributeValueMemberS{Value: rec.ContentType},
	}
	if c.ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", c.now().Add(c.ttl).Unix())}
	}
	return item
}

// itemToRecord converts a DynamoDB attribute map to a Record.
func itemToRecord(item map[string]types.AttributeValue) (domain.Record, error) {
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Record{}, err
	}
	ts, err := strAttr(item, "timestamp")
	if err != nil {
		return domain.Record{}, err
	}
	capturedAt, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return domain.Record{}, fmt.Errorf("repository: parse timestamp: %w", err)
	}
	imageURL, err := strAttr(item, "imageUrl")
	if err != nil {
		return domain.Record{}, err
	}
	patientID, _ := strAttr(item, "patientId")     // allow empty
	noteURL, _ := strAttr(item, "noteUrl")         // older items have none
	description, _ := strAttr(item, "description") // allow empty
	contentType, _ := strAttr(item, "contentType")

	return domain.Record{
		ConversationID:   convID,
		PatientID:        patientID,
		CapturedAt:       capturedAt,
		ArtifactLocation: imageURL,
		NoteLocation:     noteURL,
		Description:      description,
		ContentType:      contentType,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
