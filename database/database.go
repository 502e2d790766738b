package database

import (
	"context"
	"time"

	"github.com/computersciencehouse/quickpoll/config"
	"github.com/computersciencehouse/quickpoll/logging"
	"github.com/pkg/errors"
)

type UpsertResult int

const (
	New     UpsertResult = 0
	Updated UpsertResult = 1
)

func (r UpsertResult) String() string {
	if r == Updated {
		return "updated"
	}
	return "new"
}

const queryTimeout = 10 * time.Second

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidID      = errors.New("invalid id")
	ErrOptionMismatch = errors.New("option does not belong to poll")
)

type User struct {
	Id    string
	Name  string
	Email string
	Image string
}

type NewPoll struct {
	AuthorId string
	Question string
	Options  []string
}

type Vote struct {
	UserId   string
	PollId   string
	OptionId string
}

// OptionCount is an option together with the number of votes that currently point at it.
type OptionCount struct {
	Id    string
	Text  string
	Count int
}

// PollRecord is a poll as read back from the store, with tallies computed at read time.
type PollRecord struct {
	Id         string
	Question   string
	AuthorId   string
	AuthorName string
	CreatedAt  time.Time
	Options    []OptionCount
	// ViewerVote is the option id the viewer voted for, empty if none.
	ViewerVote string
}

// Store persists users, polls, options and votes.
//
// CastVote must be atomic per (UserId, PollId): concurrent calls for the same
// pair leave exactly one vote behind, pointing at whichever write committed last.
type Store interface {
	UpsertUser(ctx context.Context, user User) error
	CreatePoll(ctx context.Context, poll NewPoll) (string, error)
	CastVote(ctx context.Context, vote Vote) (UpsertResult, error)
	ListPolls(ctx context.Context, viewerId string) ([]PollRecord, error)
	GetPoll(ctx context.Context, pollId, viewerId string) (*PollRecord, error)
	Close(ctx context.Context) error
}

// Open connects to the backend selected in cfg and makes sure its schema exists.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	logging.For("database").WithField("backend", cfg.Database).Info("beginning database connection")

	switch cfg.Database {
	case config.DatabaseMongo:
		return ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.DatabasePostgres:
		return OpenSQL(ctx, "postgres", cfg.DatabaseURL)
	case config.DatabaseSQLite:
		return OpenSQL(ctx, "sqlite", cfg.DatabaseURL)
	}
	return nil, errors.New("unsupported database " + cfg.Database)
}
