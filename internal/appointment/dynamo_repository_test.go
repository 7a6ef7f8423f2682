package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDynamo struct {
	getOut      *dynamodb.GetItemOutput
	queryPages  []*dynamodb.QueryOutput
	queryInputs []*dynamodb.QueryInput
	updateIn    *dynamodb.UpdateItemInput
	updateErr   error
	transactIn  *dynamodb.TransactWriteItemsInput
	transactErr error
}

func (s *stubDynamo) GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if s.getOut == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return s.getOut, nil
}

func (s *stubDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	s.queryInputs = append(s.queryInputs, in)
	if len(s.queryPages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := s.queryPages[0]
	s.queryPages = s.queryPages[1:]
	return page, nil
}

func (s *stubDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	s.updateIn = in
	return &dynamodb.UpdateItemOutput{}, s.updateErr
}

func (s *stubDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	s.transactIn = in
	return &dynamodb.TransactWriteItemsOutput{}, s.transactErr
}

func itemFor(t *testing.T, a *Appointment) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(toRecord(a))
	require.NoError(t, err)
	return item
}

func TestDynamoRepository_CreateWritesGuard(t *testing.T) {
	stub := &stubDynamo{}
	repo := NewDynamoRepository(stub, "appointments")
	a := New("appt-1", "12345", "s-1", CountryPE, time.Now())

	require.NoError(t, repo.Create(context.Background(), a))
	require.NotNil(t, stub.transactIn)
	require.Len(t, stub.transactIn.TransactItems, 2)

	guard := stub.transactIn.TransactItems[1].Put
	require.NotNil(t, guard)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "ACTIVE#12345"}, guard.Item["id"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "appt-1"}, guard.Item["appointmentId"])
	assert.NotContains(t, guard.Item, "insuredId")
}

func TestDynamoRepository_CreateMapsGuardConflict(t *testing.T) {
	stub := &stubDynamo{transactErr: &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}}
	repo := NewDynamoRepository(stub, "appointments")

	err := repo.Create(context.Background(), New("appt-1", "12345", "s-1", CountryPE, time.Now()))
	assert.ErrorIs(t, err, ErrDuplicatePendingAppointment)

	stub.transactErr = errors.New("throttled")
	err = repo.Create(context.Background(), New("appt-2", "12345", "s-1", CountryPE, time.Now()))
	assert.ErrorIs(t, err, ErrStore)
}

func TestDynamoRepository_UpdateActiveIsConditional(t *testing.T) {
	stub := &stubDynamo{}
	repo := NewDynamoRepository(stub, "appointments")
	a := New("appt-1", "12345", "s-1", CountryCL, time.Now())
	require.NoError(t, a.Confirm())

	require.NoError(t, repo.Update(context.Background(), a, StatusPending))
	require.NotNil(t, stub.updateIn)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "PENDING"}, stub.updateIn.ExpressionAttributeValues[":from"])
	assert.Nil(t, stub.transactIn)

	stub.updateErr = &types.ConditionalCheckFailedException{}
	err := repo.Update(context.Background(), a, StatusPending)
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
}

func TestDynamoRepository_UpdateTerminalReleasesGuard(t *testing.T) {
	stub := &stubDynamo{}
	repo := NewDynamoRepository(stub, "appointments")
	a := New("appt-1", "12345", "s-1", CountryCL, time.Now())
	require.NoError(t, a.Cancel())

	require.NoError(t, repo.Update(context.Background(), a, StatusPending))
	require.NotNil(t, stub.transactIn)
	require.Len(t, stub.transactIn.TransactItems, 2)

	del := stub.transactIn.TransactItems[1].Delete
	require.NotNil(t, del)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "ACTIVE#12345"}, del.Key["id"])

	stub.transactErr = &types.TransactionCanceledException{}
	err := repo.Update(context.Background(), a, StatusPending)
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
}

func TestDynamoRepository_FindByID(t *testing.T) {
	a := New("appt-1", "12345", "s-1", CountryPE, time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC))
	stub := &stubDynamo{getOut: &dynamodb.GetItemOutput{Item: itemFor(t, a)}}
	repo := NewDynamoRepository(stub, "appointments")

	got, err := repo.FindByID(context.Background(), "appt-1")
	require.NoError(t, err)
	assert.Equal(t, a.Snapshot(), got.Snapshot())

	stub.getOut = nil
	_, err = repo.FindByID(context.Background(), "appt-404")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = repo.FindByID(context.Background(), "ACTIVE#12345")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestDynamoRepository_FindByInsuredIDSortsNewestFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	older := New("a", "12345", "s", CountryPE, base)
	newer := New("b", "12345", "s", CountryPE, base.Add(time.Hour))

	stub := &stubDynamo{queryPages: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{itemFor(t, older), itemFor(t, newer)}},
	}}
	repo := NewDynamoRepository(stub, "appointments")

	list, err := repo.FindByInsuredID(context.Background(), "12345")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID())
	assert.Equal(t, InsuredIndex, aws.ToString(stub.queryInputs[0].IndexName))
}
