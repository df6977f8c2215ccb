package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/sheetguard/internal/rules"
)

// Single-table partition keys.
const (
	pkFile         = "FILE"
	pkOutcome      = "OUTCOME"
	pkTracking     = "TRACKING"
	pkNotification = "NOTIFICATION"
)

// AWSStore provides AWS-backed storage using DynamoDB and S3.
type AWSStore struct {
	dynamoDB  *dynamodb.Client
	s3Client  *s3.Client
	tableName string
	bucket    string
}

// dynamoItem represents an item stored in DynamoDB. Kind and ID carry the
// attributes the notification filter queries need; Status duplicates the
// delivery status so the claim condition can inspect it.
type dynamoItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Data      string `dynamodbav:"Data"`
	Timestamp string `dynamodbav:"Timestamp"`
	Kind      string `dynamodbav:"Kind,omitempty"`
	ID        string `dynamodbav:"ID,omitempty"`
	Status    string `dynamodbav:"Status,omitempty"`
}

// NewAWSStore creates an AWS store instance.
func NewAWSStore(ctx context.Context, tableName, bucket, region, profile string) (*AWSStore, error) {
	var cfg aws.Config
	var err error

	if profile != "" {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithSharedConfigProfile(profile),
		)
	} else {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &AWSStore{
		dynamoDB:  dynamodb.NewFromConfig(cfg),
		s3Client:  s3.NewFromConfig(cfg),
		tableName: tableName,
		bucket:    bucket,
	}, nil
}

func marshalItem(pk, sk string, payload any, ts time.Time) (map[string]types.AttributeValue, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return attributevalue.MarshalMap(dynamoItem{
		PK:        pk,
		SK:        sk,
		Data:      string(data),
		Timestamp: ts.UTC().Format(time.RFC3339),
	})
}

func (s *AWSStore) getItem(ctx context.Context, pk, sk string, target any) error {
	result, err := s.dynamoDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return fmt.Errorf("getting item from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return ErrNotFound
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return fmt.Errorf("unmarshaling item: %w", err)
	}
	if err := json.Unmarshal([]byte(item.Data), target); err != nil {
		return fmt.Errorf("unmarshaling item data: %w", err)
	}
	return nil
}

func (s *AWSStore) GetFileMetadata(ctx context.Context, fileID string) (*FileMetadata, error) {
	var meta FileMetadata
	if err := s.getItem(ctx, pkFile, fileID, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// RecordOutcome writes outcome, file metadata and the optional ledger entry
// in one TransactWriteItems call. The ledger put is conditional on the
// (file_id, content_hash) entry not existing yet; when the condition fails
// the transaction is retried without the ledger put, so a duplicate
// submission records its outcome without duplicating ledger state.
func (s *AWSStore) RecordOutcome(ctx context.Context, outcome *rules.Outcome, meta *FileMetadata, entry *TrackingEntry) error {
	if existing, err := s.GetFileMetadata(ctx, meta.FileID); err == nil {
		meta.FirstUploadedAt = existing.FirstUploadedAt
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	err := s.writeOutcomeUnit(ctx, outcome, meta, entry)
	if err != nil && entry != nil && isConditionalCancellation(err) {
		err = s.writeOutcomeUnit(ctx, outcome, meta, nil)
	}
	if err != nil {
		return fmt.Errorf("recording validation outcome: %w", err)
	}
	return nil
}

func (s *AWSStore) writeOutcomeUnit(ctx context.Context, outcome *rules.Outcome, meta *FileMetadata, entry *TrackingEntry) error {
	outcomeItem, err := marshalItem(pkOutcome, outcome.ValidationID, outcome, outcome.Timestamp)
	if err != nil {
		return err
	}
	metaItem, err := marshalItem(pkFile, meta.FileID, meta, time.Now())
	if err != nil {
		return err
	}

	writes := []types.TransactWriteItem{
		{Put: &types.Put{TableName: aws.String(s.tableName), Item: outcomeItem}},
		{Put: &types.Put{TableName: aws.String(s.tableName), Item: metaItem}},
	}
	if entry != nil {
		entryItem, err := marshalItem(pkTracking, entry.FileID+"#"+entry.ContentHash, entry, entry.Timestamp)
		if err != nil {
			return err
		}
		writes = append(writes, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(s.tableName),
			Item:                entryItem,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		}})
	}

	_, err = s.dynamoDB.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: writes,
	})
	return err
}

func isConditionalCancellation(err error) bool {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false
	}
	for _, reason := range canceled.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

func (s *AWSStore) GetOutcome(ctx context.Context, validationID string) (*rules.Outcome, error) {
	var outcome rules.Outcome
	if err := s.getItem(ctx, pkOutcome, validationID, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (s *AWSStore) History(ctx context.Context, fileID string) ([]TrackingEntry, error) {
	result, err := s.dynamoDB.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pkTracking},
			":prefix": &types.AttributeValueMemberS{Value: fileID + "#"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying change history: %w", err)
	}

	var entries []TrackingEntry
	for _, raw := range result.Items {
		var item dynamoItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			continue
		}
		var entry TrackingEntry
		if err := json.Unmarshal([]byte(item.Data), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func (s *AWSStore) ClaimNotification(ctx context.Context, rec *NotificationRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshaling notification record: %w", err)
	}
	av, err := attributevalue.MarshalMap(dynamoItem{
		PK:        pkNotification,
		SK:        rec.ClaimKey(),
		Data:      string(data),
		Timestamp: rec.SentTimestamp.UTC().Format(time.RFC3339),
		Kind:      rec.Type,
		ID:        rec.NotificationID,
		Status:    rec.DeliveryStatus,
	})
	if err != nil {
		return false, fmt.Errorf("marshaling notification item: %w", err)
	}

	// A failed delivery does not block the tuple; the fresh dispatch
	// replaces the record.
	_, err = s.dynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR #status = :failed"),
		ExpressionAttributeNames: map[string]string{
			"#status": "Status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: DeliveryFailed},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return false, nil
		}
		return false, fmt.Errorf("claiming notification: %w", err)
	}
	return true, nil
}

func (s *AWSStore) UpdateNotificationDelivery(ctx context.Context, rec *NotificationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling notification record: %w", err)
	}

	_, err = s.dynamoDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkNotification},
			"SK": &types.AttributeValueMemberS{Value: rec.ClaimKey()},
		},
		UpdateExpression: aws.String("SET #data = :data, #status = :status"),
		ExpressionAttributeNames: map[string]string{
			"#data":   "Data",
			"#status": "Status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":data":   &types.AttributeValueMemberS{Value: string(data)},
			":status": &types.AttributeValueMemberS{Value: rec.DeliveryStatus},
		},
	})
	if err != nil {
		return fmt.Errorf("updating notification delivery: %w", err)
	}
	return nil
}

func (s *AWSStore) GetNotification(ctx context.Context, notificationID string) (*NotificationRecord, error) {
	result, err := s.dynamoDB.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		FilterExpression:       aws.String("ID = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pkNotification},
			":id": &types.AttributeValueMemberS{Value: notificationID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying notification: %w", err)
	}

	for _, raw := range result.Items {
		var item dynamoItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			continue
		}
		var rec NotificationRecord
		if err := json.Unmarshal([]byte(item.Data), &rec); err != nil {
			continue
		}
		return &rec, nil
	}
	return nil, ErrNotFound
}

func (s *AWSStore) ListNotificationsByType(ctx context.Context, notifType string) ([]NotificationRecord, error) {
	result, err := s.dynamoDB.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		FilterExpression:       aws.String("Kind = :kind"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: pkNotification},
			":kind": &types.AttributeValueMemberS{Value: notifType},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying notifications by type: %w", err)
	}

	var records []NotificationRecord
	for _, raw := range result.Items {
		var item dynamoItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			continue
		}
		var rec NotificationRecord
		if err := json.Unmarshal([]byte(item.Data), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].SentTimestamp.Before(records[j].SentTimestamp)
	})
	return records, nil
}

func (s *AWSStore) ArchiveSubmission(ctx context.Context, fileID, validationID string, payload []byte) error {
	key := fmt.Sprintf("submissions/%s/%s", fileID, validationID)
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("putting submission to S3: %w", err)
	}
	return nil
}
