package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/computersciencehouse/quickpoll/logging"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// SQLStore keeps polls in postgres or sqlite through database/sql.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens driver ("postgres" or "sqlite") at dsn and creates the schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver == "sqlite" && !strings.Contains(dsn, "_pragma=") {
		if strings.Contains(dsn, "?") {
			dsn += "&" + sqlitePragmas
		} else {
			dsn += "?" + sqlitePragmas
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if driver == "sqlite" {
		// sqlite allows a single writer; one connection keeps writers queued instead of busy
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}

	logging.Logger.WithFields(logrus.Fields{"module": "database", "method": "OpenSQL", "driver": driver}).Info("database schema ready")

	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close(ctx context.Context) error {
	return s.db.Close()
}

func (s *SQLStore) UpsertUser(ctx context.Context, user User) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_user (id, name, email, image)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE app_user.name END,
			email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE app_user.email END,
			image = CASE WHEN excluded.image <> '' THEN excluded.image ELSE app_user.image END
	`, user.Id, user.Name, user.Email, user.Image)
	if err != nil {
		return errors.Wrap(err, "upsert user")
	}
	return nil
}

func (s *SQLStore) CreatePoll(ctx context.Context, poll NewPoll) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	pollId := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO poll (id, question, author_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, pollId, poll.Question, poll.AuthorId, time.Now().UTC())
	if err != nil {
		return "", errors.Wrap(err, "insert poll")
	}

	for i, text := range poll.Options {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO poll_option (id, poll_id, text, sort_order)
			VALUES ($1, $2, $3, $4)
		`, uuid.NewString(), pollId, text, i)
		if err != nil {
			return "", errors.Wrap(err, "insert option")
		}
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "commit poll")
	}
	return pollId, nil
}

// CastVote inserts the vote or moves the existing one to the new option in a
// single statement. The insert only selects the option when it belongs to the
// poll, so a foreign option writes nothing.
func (s *SQLStore) CastVote(ctx context.Context, vote Vote) (UpsertResult, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return New, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	result := Updated
	var previous string
	err = tx.QueryRowContext(ctx, `
		SELECT option_id FROM vote WHERE user_id = $1 AND poll_id = $2
	`, vote.UserId, vote.PollId).Scan(&previous)
	if err == sql.ErrNoRows {
		result = New
	} else if err != nil {
		return New, errors.Wrap(err, "query vote")
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO vote (user_id, poll_id, option_id, updated_at)
		SELECT CAST($1 AS TEXT), o.poll_id, o.id, CURRENT_TIMESTAMP
		FROM poll_option o
		WHERE o.poll_id = $2 AND o.id = $3
		ON CONFLICT (user_id, poll_id) DO UPDATE SET
			option_id = excluded.option_id,
			updated_at = excluded.updated_at
	`, vote.UserId, vote.PollId, vote.OptionId)
	if err != nil {
		return New, errors.Wrap(err, "upsert vote")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return New, errors.Wrap(err, "upsert vote")
	}
	if affected == 0 {
		var exists bool
		err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM poll WHERE id = $1)`, vote.PollId).Scan(&exists)
		if err != nil {
			return New, errors.Wrap(err, "query poll")
		}
		if !exists {
			return New, ErrNotFound
		}
		return New, ErrOptionMismatch
	}

	if err := tx.Commit(); err != nil {
		return New, errors.Wrap(err, "commit vote")
	}
	return result, nil
}

func (s *SQLStore) ListPolls(ctx context.Context, viewerId string) ([]PollRecord, error) {
	return s.queryPolls(ctx, "", viewerId)
}

func (s *SQLStore) GetPoll(ctx context.Context, pollId, viewerId string) (*PollRecord, error) {
	polls, err := s.queryPolls(ctx, pollId, viewerId)
	if err != nil {
		return nil, err
	}
	if len(polls) == 0 {
		return nil, ErrNotFound
	}
	return &polls[0], nil
}

// queryPolls loads every poll, or only pollId when it is set, newest first.
func (s *SQLStore) queryPolls(ctx context.Context, pollId, viewerId string) ([]PollRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.question, p.author_id, COALESCE(u.name, ''), p.created_at
		FROM poll p
		LEFT JOIN app_user u ON u.id = p.author_id
		WHERE $1 = '' OR p.id = $1
		ORDER BY p.created_at DESC, p.id DESC
	`, pollId)
	if err != nil {
		return nil, errors.Wrap(err, "query polls")
	}
	defer rows.Close()

	var polls []PollRecord
	index := make(map[string]int)
	for rows.Next() {
		var p PollRecord
		if err := rows.Scan(&p.Id, &p.Question, &p.AuthorId, &p.AuthorName, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan poll")
		}
		index[p.Id] = len(polls)
		polls = append(polls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "query polls")
	}
	// sqlite runs on a single connection; release it before the next query
	rows.Close()
	if len(polls) == 0 {
		return polls, nil
	}

	optionRows, err := s.db.QueryContext(ctx, `
		SELECT o.poll_id, o.id, o.text, COUNT(v.user_id)
		FROM poll_option o
		LEFT JOIN vote v ON v.option_id = o.id AND v.poll_id = o.poll_id
		WHERE $1 = '' OR o.poll_id = $1
		GROUP BY o.poll_id, o.id, o.text, o.sort_order
		ORDER BY o.poll_id, o.sort_order
	`, pollId)
	if err != nil {
		return nil, errors.Wrap(err, "query options")
	}
	defer optionRows.Close()

	for optionRows.Next() {
		var owner string
		var o OptionCount
		if err := optionRows.Scan(&owner, &o.Id, &o.Text, &o.Count); err != nil {
			return nil, errors.Wrap(err, "scan option")
		}
		if i, ok := index[owner]; ok {
			polls[i].Options = append(polls[i].Options, o)
		}
	}
	if err := optionRows.Err(); err != nil {
		return nil, errors.Wrap(err, "query options")
	}
	optionRows.Close()

	if viewerId == "" {
		return polls, nil
	}

	voteRows, err := s.db.QueryContext(ctx, `
		SELECT poll_id, option_id FROM vote
		WHERE user_id = $1 AND ($2 = '' OR poll_id = $2)
	`, viewerId, pollId)
	if err != nil {
		return nil, errors.Wrap(err, "query viewer votes")
	}
	defer voteRows.Close()

	for voteRows.Next() {
		var owner, optionId string
		if err := voteRows.Scan(&owner, &optionId); err != nil {
			return nil, errors.Wrap(err, "scan viewer vote")
		}
		if i, ok := index[owner]; ok {
			polls[i].ViewerVote = optionId
		}
	}
	if err := voteRows.Err(); err != nil {
		return nil, errors.Wrap(err, "query viewer votes")
	}

	return polls, nil
}
