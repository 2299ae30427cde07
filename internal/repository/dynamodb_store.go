package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"health-companion/internal/domain"
)

const (
	skState           = "STATE#"
	defaultTTL        = 24 * time.Hour
	defaultStaleAfter = 2 * time.Minute
)

// dynamodbAPI is the minimal DynamoDB interface required by SessionStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// SessionStore keeps session state in a DynamoDB table so that every Lambda
// instance sees the same session. Items expire through the table's TTL
// attribute; nothing outlives a session.
type SessionStore struct {
	api        dynamodbAPI
	tableName  string
	ttl        time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

type Option func(*SessionStore)

// WithStaleTurnAfter lets BeginTurn take over a pending turn whose last
// write is older than d, e.g. when the instance serving it died before
// CompleteTurn. Zero disables the takeover.
func WithStaleTurnAfter(d time.Duration) Option {
	return func(s *SessionStore) {
		s.staleAfter = d
	}
}

func New(api dynamodbAPI, tableName string, ttl time.Duration, opts ...Option) (*SessionStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	s := &SessionStore{api: api, tableName: tableName, ttl: ttl, staleAfter: defaultStaleAfter, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// sessionPK returns the partition key for a session.
func sessionPK(id string) string {
	return "SESSION#" + id
}

func (s *SessionStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skState},
	}
}

// Create stores a new session; an existing item with the same id is an error.
func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	if session.ID == "" {
		return errors.New("repository: Create: session id is required")
	}
	session.ExpiresAt = session.CreatedAt.Add(s.ttl)

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                sessionItem(session),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Create: %w", err)
	}
	return nil
}

// Get reads a session with a strongly consistent read. Items past their TTL
// but not yet swept by DynamoDB are reported as not found.
func (s *SessionStore) Get(ctx context.Context, id string) (domain.Session, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	session, err := itemToSession(out.Item)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: Get decode: %w", err)
	}
	if s.now().After(session.ExpiresAt) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

// BeginTurn appends the user message and sets pending. The conditional write
// guarantees a single in-flight turn across instances, including when two
// instances race to take over the same stale turn.
func (s *SessionStore) BeginTurn(ctx context.Context, id, text string, at time.Time) (domain.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Pending && !session.StalePending(at, s.staleAfter) {
		return domain.Session{}, domain.ErrSessionBusy
	}

	out, err := s.appendMessage(ctx, session, text, domain.SenderUser, true, "", at)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: BeginTurn: %w", err)
	}
	return out, nil
}

// CompleteTurn appends the assistant reply and clears pending. A turn that
// was taken over in the meantime is reported as domain.ErrTurnSuperseded.
func (s *SessionStore) CompleteTurn(ctx context.Context, id string, turn int64, reply, failure string, at time.Time) (domain.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if !session.InFlight(turn) {
		return domain.Session{}, domain.ErrTurnSuperseded
	}

	out, err := s.appendMessage(ctx, session, reply, domain.SenderAI, false, failure, at)
	if errors.Is(err, domain.ErrSessionBusy) {
		return domain.Session{}, domain.ErrTurnSuperseded
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: CompleteTurn: %w", err)
	}
	return out, nil
}

func (s *SessionStore) appendMessage(ctx context.Context, session domain.Session, text string, sender domain.Sender, pending bool, lastError string, at time.Time) (domain.Session, error) {
	msg := domain.Message{ID: session.NextMessageID(), Text: text, Sender: sender, SentAt: at}

	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              s.key(session.ID),
		UpdateExpression: aws.String("SET messages = list_append(messages, :msg), pending = :pending, lastError = :lastError, updatedAt = :now, #ttl = :ttl"),
		// The log length pins the state read above, so a concurrent writer loses.
		ConditionExpression:      aws.String("pending = :wasPending AND size(messages) = :n"),
		ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":msg":        &types.AttributeValueMemberL{Value: []types.AttributeValue{messageAttr(msg)}},
			":pending":    &types.AttributeValueMemberBOOL{Value: pending},
			":wasPending": &types.AttributeValueMemberBOOL{Value: session.Pending},
			":lastError":  &types.AttributeValueMemberS{Value: lastError},
			":now":        &types.AttributeValueMemberS{Value: formatTime(at)},
			":ttl":        numberAttr(at.Add(s.ttl).Unix()),
			":n":          numberAttr(int64(len(session.Messages))),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return domain.Session{}, domain.ErrSessionBusy
		}
		return domain.Session{}, err
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.Session{}, errors.New("update returned no attributes")
	}
	return itemToSession(out.Attributes)
}

func sessionItem(session domain.Session) map[string]types.AttributeValue {
	msgs := make([]types.AttributeValue, 0, len(session.Messages))
	for _, m := range session.Messages {
		msgs = append(msgs, messageAttr(m))
	}
	p := session.Profile
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: sessionPK(session.ID)},
		"SK":            &types.AttributeValueMemberS{Value: skState},
		"sessionId":     &types.AttributeValueMemberS{Value: session.ID},
		"age":           numberAttr(int64(p.Age)),
		"gender":        &types.AttributeValueMemberS{Value: string(p.Gender)},
		"weight":        &types.AttributeValueMemberN{Value: strconv.FormatFloat(p.Weight, 'f', -1, 64)},
		"height":        &types.AttributeValueMemberN{Value: strconv.FormatFloat(p.Height, 'f', -1, 64)},
		"activityLevel": &types.AttributeValueMemberS{Value: string(p.ActivityLevel)},
		"goal":          &types.AttributeValueMemberS{Value: p.Goal},
		"messages":      &types.AttributeValueMemberL{Value: msgs},
		"pending":       &types.AttributeValueMemberBOOL{Value: session.Pending},
		"lastError":     &types.AttributeValueMemberS{Value: session.LastError},
		"createdAt":     &types.AttributeValueMemberS{Value: formatTime(session.CreatedAt)},
		"updatedAt":     &types.AttributeValueMemberS{Value: formatTime(session.UpdatedAt)},
		"ttl":           numberAttr(session.ExpiresAt.Unix()),
	}
}

func messageAttr(m domain.Message) types.AttributeValue {
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"id":     numberAttr(m.ID),
		"text":   &types.AttributeValueMemberS{Value: m.Text},
		"sender": &types.AttributeValueMemberS{Value: string(m.Sender)},
		"sentAt": &types.AttributeValueMemberS{Value: formatTime(m.SentAt)},
	}}
}

// itemToSession converts a DynamoDB attribute map to a Session.
func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	id, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Session{}, err
	}
	age, err := intAttr(item, "age")
	if err != nil {
		return domain.Session{}, err
	}
	gender, err := strAttr(item, "gender")
	if err != nil {
		return domain.Session{}, err
	}
	weight, err := floatAttr(item, "weight")
	if err != nil {
		return domain.Session{}, err
	}
	height, err := floatAttr(item, "height")
	if err != nil {
		return domain.Session{}, err
	}
	level, err := strAttr(item, "activityLevel")
	if err != nil {
		return domain.Session{}, err
	}
	goal, err := strAttr(item, "goal")
	if err != nil {
		return domain.Session{}, err
	}
	profile, err := domain.ProfileDraft{
		Age: int(age), Gender: gender, Weight: weight, Height: height, ActivityLevel: level, Goal: goal,
	}.Complete()
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: stored profile: %w", err)
	}

	msgs, err := messagesAttr(item, "messages")
	if err != nil {
		return domain.Session{}, err
	}
	pending, err := boolAttr(item, "pending")
	if err != nil {
		return domain.Session{}, err
	}
	ttl, err := intAttr(item, "ttl")
	if err != nil {
		return domain.Session{}, err
	}
	lastError, _ := strAttr(item, "lastError") // allow empty
	createdAt, _ := timeAttr(item, "createdAt")
	updatedAt, _ := timeAttr(item, "updatedAt")

	return domain.Session{
		ID:        id,
		Profile:   profile,
		Messages:  msgs,
		Pending:   pending,
		LastError: lastError,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		ExpiresAt: time.Unix(ttl, 0).UTC(),
	}, nil
}

func messagesAttr(item map[string]types.AttributeValue, key string) ([]domain.Message, error) {
	v, ok := item[key]
	if !ok {
		return nil, fmt.Errorf("repository: missing attribute %q", key)
	}
	list, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a list", key)
	}
	msgs := make([]domain.Message, 0, len(list.Value))
	for i, raw := range list.Value {
		m, ok := raw.(*types.AttributeValueMemberM)
		if !ok {
			return nil, fmt.Errorf("repository: message %d is not a map", i)
		}
		id, err := intAttr(m.Value, "id")
		if err != nil {
			return nil, err
		}
		text, err := strAttr(m.Value, "text")
		if err != nil {
			return nil, err
		}
		sender, err := strAttr(m.Value, "sender")
		if err != nil {
			return nil, err
		}
		sentAt, _ := timeAttr(m.Value, "sentAt")
		msgs = append(msgs, domain.Message{ID: id, Text: text, Sender: domain.Sender(sender), SentAt: sentAt})
	}
	return msgs, nil
}

func numberAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
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

func numAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a number", key)
	}
	return n.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	raw, err := numAttr(item, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func floatAttr(item map[string]types.AttributeValue, key string) (float64, error) {
	raw, err := numAttr(item, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a bool", key)
	}
	return b.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}
