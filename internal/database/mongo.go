package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messageCounter = "messages"

type MongoDB struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
	counters *mongo.Collection
}

type mongoUser struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Username     string             `bson:"username"`
	PasswordHash string             `bson:"password"`
	CreatedAt    time.Time          `bson:"createdAt"`
}

type mongoMessage struct {
	ID          int64              `bson:"_id"`
	SenderID    string             `bson:"sender"`
	RecipientID string             `bson:"recipient"`
	Text        string             `bson:"text,omitempty"`
	Attachment  *models.Attachment `bson:"file,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt"`
}

func NewMongoDB(ctx context.Context, uri, dbName string) (*MongoDB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(dbName)
	m := &MongoDB{
		client:   client,
		users:    db.Collection("users"),
		messages: db.Collection("messages"),
		counters: db.Collection("counters"),
	}

	_, err = m.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ensure username index: %w", err)
	}

	logger.Info("Connected to mongo database %s", dbName)
	return m, nil
}

func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (u *mongoUser) toModel() *models.User {
	return &models.User{
		ID:           u.ID.Hex(),
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func (m *MongoDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u mongoUser
	err := m.users.FindOne(ctx, bson.M{"username": username}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u.toModel(), nil
}

func (m *MongoDB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	u := mongoUser{
		ID:           primitive.NewObjectID(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := m.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u.toModel(), nil
}

func (m *MongoDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	var u mongoUser
	err = m.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user := u.toModel()
	user.PasswordHash = ""
	return user, nil
}

func (m *MongoDB) ListUsers(ctx context.Context) ([]*models.DirectoryEntry, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1, "username": 1}).
		SetSort(bson.D{{Key: "username", Value: 1}})

	cur, err := m.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var users []*models.DirectoryEntry
	for cur.Next(ctx) {
		var u mongoUser
		if err := cur.Decode(&u); err != nil {
			return nil, err
		}
		users = append(users, &models.DirectoryEntry{UserID: u.ID.Hex(), DisplayName: u.Username})
	}
	return users, cur.Err()
}

// nextMessageID hands out monotonically increasing ids from a counter document.
func (m *MongoDB) nextMessageID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": messageCounter},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Seq, nil
}

func (m *MongoDB) InsertMessage(ctx context.Context, msg *models.NewMessage) (*models.Message, error) {
	id, err := m.nextMessageID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate message id: %w", err)
	}

	doc := mongoMessage{
		ID:          id,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Text:        msg.Text,
		Attachment:  msg.Attachment,
		// Mongo stores milliseconds; truncate so the returned value round-trips.
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := m.messages.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return doc.toModel(), nil
}

func (d *mongoMessage) toModel() *models.Message {
	return &models.Message{
		ID:          d.ID,
		SenderID:    d.SenderID,
		RecipientID: d.RecipientID,
		Text:        d.Text,
		Attachment:  d.Attachment,
		CreatedAt:   d.CreatedAt,
	}
}

func (m *MongoDB) QueryConversation(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sender": userA, "recipient": userB},
		bson.M{"sender": userB, "recipient": userA},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	cur, err := m.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var messages []*models.Message
	for cur.Next(ctx) {
		var doc mongoMessage
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		messages = append(messages, doc.toModel())
	}
	return messages, cur.Err()
}
