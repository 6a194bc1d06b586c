package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"inspectline/internal/domain"
)

// MongoStore keeps session records, submissions and events in one database.
type MongoStore struct {
	sessions    *mongo.Collection
	submissions *mongo.Collection
	events      *mongo.Collection
	counters    *mongo.Collection
}

// ConnectMongo dials the server and verifies it answers before returning.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		sessions:    db.Collection("sessions"),
		submissions: db.Collection("form_submissions"),
		events:      db.Collection("events"),
		counters:    db.Collection("counters"),
	}
}

// EnsureIndexes creates the indexes the queries below rely on.
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := m.submissions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("index form_submissions: %w", err)
	}
	if _, err := m.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "_id", Value: -1}},
	}); err != nil {
		return fmt.Errorf("index events: %w", err)
	}
	return nil
}

type sessionDoc struct {
	ID             string      `bson:"_id"`
	UserID         string      `bson:"user_id"`
	FormTemplateID string      `bson:"form_template_id"`
	LibraryVersion string      `bson:"library_version"`
	JobType        string      `bson:"job_type"`
	Region         string      `bson:"region,omitempty"`
	AccessTier     string      `bson:"access_tier"`
	Answers        []answerDoc `bson:"answers"`
	CreatedAt      time.Time   `bson:"created_at"`
	AbandonedAt    *time.Time  `bson:"abandoned_at,omitempty"`
	Cursor         string      `bson:"cursor,omitempty"`
}

type answerDoc struct {
	QuestionID string    `bson:"question_id"`
	Value      any       `bson:"value"`
	Confidence int       `bson:"confidence"`
	AnsweredAt time.Time `bson:"answered_at"`
}

func toSessionDoc(rec domain.SessionRecord) sessionDoc {
	doc := sessionDoc{
		ID:             rec.SessionID,
		UserID:         rec.UserID,
		FormTemplateID: rec.FormTemplateID,
		LibraryVersion: rec.LibraryVersion,
		JobType:        rec.Context.JobType,
		Region:         rec.Context.Region,
		AccessTier:     string(rec.Context.AccessTier),
		Answers:        make([]answerDoc, 0, len(rec.Answers)),
		CreatedAt:      rec.CreatedAt,
		AbandonedAt:    rec.AbandonedAt,
		Cursor:         rec.Cursor,
	}
	for _, a := range rec.Answers {
		doc.Answers = append(doc.Answers, answerDoc{QuestionID: a.QuestionID, Value: a.Value, Confidence: a.Confidence, AnsweredAt: a.AnsweredAt})
	}
	return doc
}

func (d sessionDoc) record() domain.SessionRecord {
	rec := domain.SessionRecord{
		SessionID:      d.ID,
		UserID:         d.UserID,
		FormTemplateID: d.FormTemplateID,
		LibraryVersion: d.LibraryVersion,
		Context: domain.Context{
			JobType:    d.JobType,
			Region:     d.Region,
			AccessTier: domain.AccessTier(d.AccessTier),
		},
		Answers:   make([]domain.Answer, 0, len(d.Answers)),
		CreatedAt: d.CreatedAt.UTC(),
		Cursor:    d.Cursor,
	}
	if d.AbandonedAt != nil {
		at := d.AbandonedAt.UTC()
		rec.AbandonedAt = &at
	}
	for _, a := range d.Answers {
		rec.Answers = append(rec.Answers, domain.Answer{
			QuestionID: a.QuestionID,
			Value:      plain(a.Value),
			Confidence: a.Confidence,
			AnsweredAt: a.AnsweredAt.UTC(),
		})
	}
	return rec
}

// plain converts decoded BSON containers into the JSON-shaped values the flow engine accepts.
func plain(v any) any {
	switch t := v.(type) {
	case primitive.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plain(item)
		}
		return out
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	}
	return v
}

func (m *MongoStore) Load(ctx context.Context, sessionID string) (domain.SessionRecord, error) {
	var doc sessionDoc
	err := m.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return doc.record(), nil
}

func (m *MongoStore) Save(ctx context.Context, rec domain.SessionRecord) error {
	if rec.SessionID == "" {
		return errNoSessionID
	}
	_, err := m.sessions.ReplaceOne(ctx, bson.M{"_id": rec.SessionID}, toSessionDoc(rec), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.SessionID, err)
	}
	return nil
}

type submissionDoc struct {
	ID             string    `bson:"_id"`
	SessionID      string    `bson:"session_id"`
	FormTemplateID string    `bson:"form_template_id"`
	Payload        string    `bson:"payload_json"`
	SubmittedAt    time.Time `bson:"submitted_at"`
}

func (m *MongoStore) Submit(ctx context.Context, receipt domain.SubmissionReceipt, payload domain.SubmissionPayload) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	_, err = m.submissions.InsertOne(ctx, submissionDoc{
		ID:             receipt.ID,
		SessionID:      receipt.SessionID,
		FormTemplateID: payload.FormTemplateID,
		Payload:        data,
		SubmittedAt:    receipt.SubmittedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadySubmitted
	}
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

type eventDoc struct {
	ID        int64     `bson:"_id"`
	TS        time.Time `bson:"ts"`
	Type      string    `bson:"type"`
	SessionID string    `bson:"session_id"`
	ActorID   string    `bson:"actor_id"`
	Payload   string    `bson:"payload_json"`
}

// Append assigns the next id from a counter document so events sort the same way as in SQLite.
func (m *MongoStore) Append(ctx context.Context, e domain.Event) error {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "events"},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return fmt.Errorf("next event id: %w", err)
	}
	if e.TS.IsZero() {
		e.TS = time.Now()
	}
	if e.Payload == "" {
		e.Payload = "{}"
	}
	_, err = m.events.InsertOne(ctx, eventDoc{
		ID: counter.Seq, TS: e.TS.UTC(), Type: e.Type, SessionID: e.SessionID, ActorID: e.ActorID, Payload: e.Payload,
	})
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.Type, err)
	}
	return nil
}

func (m *MongoStore) List(ctx context.Context, sessionID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	cur, err := m.events.Find(ctx, bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	res := make([]domain.Event, len(docs))
	for i, d := range docs {
		// newest first from the query; the log reads oldest first
		res[len(docs)-1-i] = domain.Event{ID: d.ID, TS: d.TS.UTC(), Type: d.Type, SessionID: d.SessionID, ActorID: d.ActorID, Payload: d.Payload}
	}
	return res, nil
}
