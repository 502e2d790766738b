package polls

import (
	"context"

	"github.com/computersciencehouse/quickpoll/database"
	"github.com/computersciencehouse/quickpoll/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Notifier hears about committed changes. Calls happen after the store write
// has succeeded and never inside it.
type Notifier interface {
	PollCreated(pollId string)
	PollChanged(pollId string)
}

type nopNotifier struct{}

func (nopNotifier) PollCreated(string) {}
func (nopNotifier) PollChanged(string) {}

// Engine applies the poll and vote rules on top of a Store.
type Engine struct {
	store    database.Store
	notifier Notifier
}

func NewEngine(store database.Store, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Engine{store: store, notifier: notifier}
}

// CreatePoll validates in and stores the poll with all of its options, or nothing.
func (e *Engine) CreatePoll(ctx context.Context, userId string, in CreatePollInput) (string, error) {
	if userId == "" {
		return "", &Error{Kind: KindUnauthenticated, Message: "You must be logged in to create a poll."}
	}

	valid, verr := Validate(in)
	if verr != nil {
		return "", verr
	}

	pollId, err := e.store.CreatePoll(ctx, database.NewPoll{
		AuthorId: userId,
		Question: valid.Question,
		Options:  valid.Options,
	})
	if err != nil {
		return "", e.fail(err, "Database Error: Failed to create poll.", logrus.Fields{"user": userId})
	}

	logging.For("polls").WithFields(logrus.Fields{"poll": pollId, "user": userId, "options": len(valid.Options)}).Info("poll created")
	e.notifier.PollCreated(pollId)
	return pollId, nil
}

// SubmitVote records userId's choice of optionId in pollId, replacing any
// earlier choice in the same poll.
func (e *Engine) SubmitVote(ctx context.Context, userId, pollId, optionId string) error {
	if userId == "" {
		return &Error{Kind: KindUnauthenticated, Message: "You must be logged in to vote."}
	}
	if pollId == "" || optionId == "" {
		return &Error{Kind: KindInvalidInput, Message: "Invalid form data. Poll ID and Option ID are required."}
	}

	result, err := e.store.CastVote(ctx, database.Vote{UserId: userId, PollId: pollId, OptionId: optionId})
	if err != nil {
		return e.fail(err, "Database Error: Failed to submit vote.", logrus.Fields{"user": userId, "poll": pollId, "option": optionId})
	}

	logging.For("polls").WithFields(logrus.Fields{"poll": pollId, "user": userId, "result": result}).Info("vote recorded")
	e.notifier.PollChanged(pollId)
	return nil
}

// ListPolls returns every poll newest first, projected for viewerId.
func (e *Engine) ListPolls(ctx context.Context, viewerId string) ([]View, error) {
	records, err := e.store.ListPolls(ctx, viewerId)
	if err != nil {
		return nil, e.fail(err, "Failed to fetch polls.", logrus.Fields{"viewer": viewerId})
	}

	views := make([]View, 0, len(records))
	for _, rec := range records {
		views = append(views, Project(rec))
	}
	return views, nil
}

func (e *Engine) GetPoll(ctx context.Context, pollId, viewerId string) (View, error) {
	if pollId == "" {
		return View{}, &Error{Kind: KindInvalidInput, Message: "Poll ID is required."}
	}

	rec, err := e.store.GetPoll(ctx, pollId, viewerId)
	if err != nil {
		return View{}, e.fail(err, "Failed to fetch poll.", logrus.Fields{"poll": pollId})
	}
	return Project(*rec), nil
}

// fail converts a store error into the package taxonomy. Unknown ids and
// foreign options are the caller's fault; everything else is logged as a
// store failure and hidden behind msg.
func (e *Engine) fail(err error, msg string, fields logrus.Fields) *Error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return &Error{Kind: KindInvalidInput, Message: "Poll not found.", Err: err}
	case errors.Is(err, database.ErrInvalidID):
		return &Error{Kind: KindInvalidInput, Message: "Invalid poll or option id.", Err: err}
	case errors.Is(err, database.ErrOptionMismatch):
		return &Error{Kind: KindInvalidInput, Message: "Option does not belong to this poll.", Err: err}
	}

	logging.Logger.WithFields(logrus.Fields{"module": "polls", "error": err}).WithFields(fields).Error(msg)
	return &Error{Kind: KindStore, Message: msg, Err: err}
}
