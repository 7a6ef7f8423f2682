package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// InsuredIndex is the GSI keyed by insuredId.
	InsuredIndex = "insuredId-index"
	// StatusCreatedIndex is the GSI keyed by status with createdAt as sort key.
	StatusCreatedIndex = "status-createdAt-index"

	guardPrefix = "ACTIVE#"
)

type dynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(context.Context, *dynamodb.TransactWriteItemsInput, ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// dynamoRecord is the item layout of an appointment. Guard items that pin
// the active appointment of an insured share the table under
// id = "ACTIVE#<insuredId>" and carry no insuredId attribute, so they never
// show up in InsuredIndex.
type dynamoRecord struct {
	ID          string `dynamodbav:"id"`
	InsuredID   string `dynamodbav:"insuredId"`
	ScheduleID  string `dynamodbav:"scheduleId"`
	CountryCode string `dynamodbav:"countryCode"`
	Status      string `dynamodbav:"status"`
	CreatedAt   string `dynamodbav:"createdAt"`
	UpdatedAt   string `dynamodbav:"updatedAt"`
}

type guardRecord struct {
	ID            string `dynamodbav:"id"`
	AppointmentID string `dynamodbav:"appointmentId"`
}

// DynamoRepository is the DynamoDB-backed central index.
type DynamoRepository struct {
	client    dynamoAPI
	tableName string
}

var _ IndexStore = (*DynamoRepository)(nil)

func NewDynamoRepository(client dynamoAPI, tableName string) *DynamoRepository {
	if client == nil {
		panic("appointment: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("appointment: table name cannot be empty")
	}
	return &DynamoRepository{client: client, tableName: tableName}
}

func toRecord(a *Appointment) dynamoRecord {
	s := a.Snapshot()
	return dynamoRecord{
		ID:          s.ID,
		InsuredID:   s.InsuredID,
		ScheduleID:  s.ScheduleID,
		CountryCode: s.CountryCode,
		Status:      s.Status,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func fromItem(item map[string]types.AttributeValue) (*Appointment, error) {
	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("decode appointment item: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode appointment %s createdAt: %w", rec.ID, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode appointment %s updatedAt: %w", rec.ID, err)
	}
	return Restore(Snapshot{
		ID:          rec.ID,
		InsuredID:   rec.InsuredID,
		ScheduleID:  rec.ScheduleID,
		CountryCode: rec.CountryCode,
		Status:      rec.Status,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	})
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func guardID(insuredID InsuredID) string {
	return guardPrefix + string(insuredID)
}

func (r *DynamoRepository) FindByID(ctx context.Context, id string) (*Appointment, error) {
	if id == "" || len(id) >= len(guardPrefix) && id[:len(guardPrefix)] == guardPrefix {
		return nil, ErrAppointmentNotFound
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, storeError("get appointment", err)
	}
	if out.Item == nil {
		return nil, ErrAppointmentNotFound
	}
	a, err := fromItem(out.Item)
	if err != nil {
		return nil, storeError("get appointment", err)
	}
	return a, nil
}

func (r *DynamoRepository) query(ctx context.Context, op string, input *dynamodb.QueryInput) ([]*Appointment, error) {
	var result []*Appointment
	paginator := dynamodb.NewQueryPaginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, storeError(op, err)
		}
		for _, item := range page.Items {
			a, err := fromItem(item)
			if err != nil {
				return nil, storeError(op, err)
			}
			result = append(result, a)
			if input.Limit != nil && len(result) >= int(*input.Limit) {
				return result, nil
			}
		}
	}
	return result, nil
}

func (r *DynamoRepository) FindByInsuredID(ctx context.Context, insuredID InsuredID) ([]*Appointment, error) {
	appts, err := r.query(ctx, "list appointments", &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(InsuredIndex),
		KeyConditionExpression: aws.String("insuredId = :insuredId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":insuredId": &types.AttributeValueMemberS{Value: string(insuredID)},
		},
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(appts, func(i, j int) bool {
		return appts[i].CreatedAt().After(appts[j].CreatedAt())
	})
	return appts, nil
}

func (r *DynamoRepository) FindNonTerminalByInsuredID(ctx context.Context, insuredID InsuredID) ([]*Appointment, error) {
	return r.query(ctx, "find active appointments", &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(InsuredIndex),
		KeyConditionExpression: aws.String("insuredId = :insuredId"),
		FilterExpression:       aws.String("#status IN (:pending, :confirmed)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":insuredId": &types.AttributeValueMemberS{Value: string(insuredID)},
			":pending":   &types.AttributeValueMemberS{Value: string(StatusPending)},
			":confirmed": &types.AttributeValueMemberS{Value: string(StatusConfirmed)},
		},
	})
}

func (r *DynamoRepository) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, "find stale pending", &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(StatusCreatedIndex),
		KeyConditionExpression: aws.String("#status = :pending AND createdAt < :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
			":cutoff":  &types.AttributeValueMemberS{Value: createdBefore.UTC().Format(time.RFC3339Nano)},
		},
		Limit: aws.Int32(int32(limit)),
	})
}

// Create writes the appointment and its insured guard in one transaction;
// the guard's attribute_not_exists condition is the uniqueness check.
func (r *DynamoRepository) Create(ctx context.Context, a *Appointment) error {
	item, err := attributevalue.MarshalMap(toRecord(a))
	if err != nil {
		return fmt.Errorf("marshal appointment: %w", err)
	}
	guard, err := attributevalue.MarshalMap(guardRecord{
		ID:            guardID(a.InsuredID()),
		AppointmentID: a.ID(),
	})
	if err != nil {
		return fmt.Errorf("marshal insured guard: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(id)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                guard,
				ConditionExpression: aws.String("attribute_not_exists(id)"),
			}},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) && len(canceled.CancellationReasons) > 1 &&
			aws.ToString(canceled.CancellationReasons[1].Code) == "ConditionalCheckFailed" {
			return ErrDuplicatePendingAppointment
		}
		return storeError("create appointment", err)
	}
	return nil
}

// Update is conditional on the stored status. Leaving the active states
// also releases the insured guard in the same transaction.
func (r *DynamoRepository) Update(ctx context.Context, a *Appointment, from Status) error {
	update := &types.Update{
		TableName:           aws.String(r.tableName),
		Key:                 idKey(a.ID()),
		UpdateExpression:    aws.String("SET #status = :status, updatedAt = :updatedAt"),
		ConditionExpression: aws.String("attribute_exists(id) AND #status = :from"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":    &types.AttributeValueMemberS{Value: string(a.Status())},
			":updatedAt": &types.AttributeValueMemberS{Value: a.UpdatedAt().Format(time.RFC3339Nano)},
			":from":      &types.AttributeValueMemberS{Value: string(from)},
		},
	}

	if a.Status().Active() {
		_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 update.TableName,
			Key:                       update.Key,
			UpdateExpression:          update.UpdateExpression,
			ConditionExpression:       update.ConditionExpression,
			ExpressionAttributeNames:  update.ExpressionAttributeNames,
			ExpressionAttributeValues: update.ExpressionAttributeValues,
		})
		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if errors.As(err, &condErr) {
				return fmt.Errorf("%w: %s is no longer %s", ErrConcurrentUpdate, a.ID(), from)
			}
			return storeError("update appointment", err)
		}
		return nil
	}

	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: update},
			{Delete: &types.Delete{
				TableName:           aws.String(r.tableName),
				Key:                 idKey(guardID(a.InsuredID())),
				ConditionExpression: aws.String("attribute_not_exists(id) OR appointmentId = :appointmentId"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":appointmentId": &types.AttributeValueMemberS{Value: a.ID()},
				},
			}},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return fmt.Errorf("%w: %s is no longer %s", ErrConcurrentUpdate, a.ID(), from)
		}
		return storeError("update appointment", err)
	}
	return nil
}
