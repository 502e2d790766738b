package database

import (
	"context"
	"time"

	"github.com/computersciencehouse/quickpoll/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type mongoOption struct {
	Id   primitive.ObjectID `bson:"_id"`
	Text string             `bson:"text"`
}

// Options live inside the poll document, so a poll and its options are
// written by a single atomic insert.
type mongoPoll struct {
	Id        primitive.ObjectID `bson:"_id,omitempty"`
	Question  string             `bson:"question"`
	AuthorId  string             `bson:"authorId"`
	CreatedAt time.Time          `bson:"createdAt"`
	Options   []mongoOption      `bson:"options"`
	Author    []mongoUser        `bson:"author,omitempty"`
}

type mongoUser struct {
	Id    string `bson:"_id"`
	Name  string `bson:"name"`
	Email string `bson:"email"`
	Image string `bson:"image"`
}

type mongoVote struct {
	UserId    string             `bson:"userId"`
	PollId    primitive.ObjectID `bson:"pollId"`
	OptionId  primitive.ObjectID `bson:"optionId"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

type mongoResult struct {
	Option primitive.ObjectID `bson:"_id"`
	Count  int                `bson:"count"`
}

// MongoStore keeps users, polls and votes in three collections. The votes
// collection carries a unique index on {userId, pollId}.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func ConnectMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	log := logging.Logger.WithFields(logrus.Fields{"module": "database", "method": "ConnectMongo"})

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect to mongodb")
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping mongodb")
	}

	s := &MongoStore{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	log.Info("connected to mongodb")
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection("votes").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "pollId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errors.Wrap(err, "create vote index")
	}

	_, err = s.db.Collection("polls").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return errors.Wrap(err, "create poll index")
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := s.client.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "disconnect from mongodb")
	}

	logging.Logger.WithFields(logrus.Fields{"module": "database", "method": "Close"}).Info("disconnected from database")
	return nil
}

func (s *MongoStore) UpsertUser(ctx context.Context, user User) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	set := bson.M{}
	if user.Name != "" {
		set["name"] = user.Name
	}
	if user.Email != "" {
		set["email"] = user.Email
	}
	if user.Image != "" {
		set["image"] = user.Image
	}
	update := bson.M{"$setOnInsert": bson.M{"createdAt": time.Now().UTC()}}
	if len(set) > 0 {
		update["$set"] = set
	}

	users := s.db.Collection("users")
	_, err := users.UpdateOne(ctx, bson.M{"_id": user.Id}, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		_, err = users.UpdateOne(ctx, bson.M{"_id": user.Id}, update)
	}
	if err != nil {
		return errors.Wrap(err, "upsert user")
	}
	return nil
}

func (s *MongoStore) CreatePoll(ctx context.Context, poll NewPoll) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	doc := mongoPoll{
		Question:  poll.Question,
		AuthorId:  poll.AuthorId,
		CreatedAt: time.Now().UTC(),
	}
	for _, text := range poll.Options {
		doc.Options = append(doc.Options, mongoOption{Id: primitive.NewObjectID(), Text: text})
	}

	result, err := s.db.Collection("polls").InsertOne(ctx, doc)
	if err != nil {
		return "", errors.Wrap(err, "insert poll")
	}

	return result.InsertedID.(primitive.ObjectID).Hex(), nil
}

func (s *MongoStore) CastVote(ctx context.Context, vote Vote) (UpsertResult, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	pollId, err := primitive.ObjectIDFromHex(vote.PollId)
	if err != nil {
		return New, ErrInvalidID
	}
	optionId, err := primitive.ObjectIDFromHex(vote.OptionId)
	if err != nil {
		return New, ErrInvalidID
	}

	// polls are immutable, so checking membership before the write cannot go stale
	var poll mongoPoll
	err = s.db.Collection("polls").FindOne(ctx, bson.M{"_id": pollId},
		options.FindOne().SetProjection(bson.M{"options": 1})).Decode(&poll)
	if err == mongo.ErrNoDocuments {
		return New, ErrNotFound
	}
	if err != nil {
		return New, errors.Wrap(err, "find poll")
	}
	if !hasOption(&poll, optionId) {
		return New, ErrOptionMismatch
	}

	votes := s.db.Collection("votes")
	filter := bson.M{"userId": vote.UserId, "pollId": pollId}
	update := bson.M{"$set": bson.M{"optionId": optionId, "updatedAt": time.Now().UTC()}}

	res, err := votes.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// a concurrent upsert inserted first; ours becomes the update
		res, err = votes.UpdateOne(ctx, filter, update)
	}
	if err != nil {
		return New, errors.Wrap(err, "upsert vote")
	}

	if res.UpsertedCount > 0 {
		return New, nil
	}
	return Updated, nil
}

func (s *MongoStore) ListPolls(ctx context.Context, viewerId string) ([]PollRecord, error) {
	return s.queryPolls(ctx, bson.D{}, viewerId)
}

func (s *MongoStore) GetPoll(ctx context.Context, pollId, viewerId string) (*PollRecord, error) {
	objId, err := primitive.ObjectIDFromHex(pollId)
	if err != nil {
		return nil, ErrInvalidID
	}

	polls, err := s.queryPolls(ctx, bson.D{{Key: "_id", Value: objId}}, viewerId)
	if err != nil {
		return nil, err
	}
	if len(polls) == 0 {
		return nil, ErrNotFound
	}
	return &polls[0], nil
}

func (s *MongoStore) queryPolls(ctx context.Context, match bson.D, viewerId string) ([]PollRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := s.db.Collection("polls").Aggregate(ctx, mongo.Pipeline{
		{{
			Key: "$match", Value: match,
		}},
		{{
			Key: "$sort", Value: bson.D{
				{Key: "createdAt", Value: -1},
				{Key: "_id", Value: -1},
			},
		}},
		{{
			Key: "$lookup", Value: bson.D{
				{Key: "from", Value: "users"},
				{Key: "localField", Value: "authorId"},
				{Key: "foreignField", Value: "_id"},
				{Key: "as", Value: "author"},
			},
		}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "query polls")
	}

	var docs []mongoPoll
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode polls")
	}
	if len(docs) == 0 {
		return []PollRecord{}, nil
	}

	ids := make([]primitive.ObjectID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.Id)
	}

	counts, err := s.countVotes(ctx, ids)
	if err != nil {
		return nil, err
	}

	viewerVotes := make(map[primitive.ObjectID]primitive.ObjectID)
	if viewerId != "" {
		cursor, err := s.db.Collection("votes").Find(ctx, bson.M{"userId": viewerId, "pollId": bson.M{"$in": ids}})
		if err != nil {
			return nil, errors.Wrap(err, "query viewer votes")
		}
		var votes []mongoVote
		if err := cursor.All(ctx, &votes); err != nil {
			return nil, errors.Wrap(err, "decode viewer votes")
		}
		for _, v := range votes {
			viewerVotes[v.PollId] = v.OptionId
		}
	}

	polls := make([]PollRecord, 0, len(docs))
	for _, d := range docs {
		p := PollRecord{
			Id:        d.Id.Hex(),
			Question:  d.Question,
			AuthorId:  d.AuthorId,
			CreatedAt: d.CreatedAt,
		}
		if len(d.Author) > 0 {
			p.AuthorName = d.Author[0].Name
		}
		for _, o := range d.Options {
			p.Options = append(p.Options, OptionCount{Id: o.Id.Hex(), Text: o.Text, Count: counts[o.Id]})
		}
		if optionId, ok := viewerVotes[d.Id]; ok {
			p.ViewerVote = optionId.Hex()
		}
		polls = append(polls, p)
	}
	return polls, nil
}

// countVotes groups the current votes of the given polls by option.
func (s *MongoStore) countVotes(ctx context.Context, pollIds []primitive.ObjectID) (map[primitive.ObjectID]int, error) {
	cursor, err := s.db.Collection("votes").Aggregate(ctx, mongo.Pipeline{
		{{
			Key: "$match", Value: bson.D{
				{Key: "pollId", Value: bson.D{{Key: "$in", Value: pollIds}}},
			},
		}},
		{{
			Key: "$group", Value: bson.D{
				{Key: "_id", Value: "$optionId"},
				{Key: "count", Value: bson.D{
					{Key: "$sum", Value: 1},
				}},
			},
		}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "count votes")
	}

	var results []mongoResult
	if err := cursor.All(ctx, &results); err != nil {
		return nil, errors.Wrap(err, "decode vote counts")
	}

	counts := make(map[primitive.ObjectID]int, len(results))
	for _, r := range results {
		counts[r.Option] = r.Count
	}
	return counts, nil
}

func hasOption(poll *mongoPoll, optionId primitive.ObjectID) bool {
	for _, opt := range poll.Options {
		if opt.Id == optionId {
			return true
		}
	}
	return false
}
