package database

// schema is shared by postgres and sqlite. Both accept $N placeholders and
// ON CONFLICT upserts, so the store issues the same statements to either.
const schema = `
CREATE TABLE IF NOT EXISTS app_user (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    image TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS poll (
    id TEXT PRIMARY KEY,
    question TEXT NOT NULL CHECK (question <> ''),
    author_id TEXT NOT NULL REFERENCES app_user(id),
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_poll_created_at ON poll(created_at);

CREATE TABLE IF NOT EXISTS poll_option (
    id TEXT PRIMARY KEY,
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    text TEXT NOT NULL CHECK (text <> ''),
    sort_order INTEGER NOT NULL,
    UNIQUE (id, poll_id)
);

CREATE INDEX IF NOT EXISTS idx_poll_option_poll_id ON poll_option(poll_id);

-- one row per (user, poll); the option must belong to the same poll
CREATE TABLE IF NOT EXISTS vote (
    user_id TEXT NOT NULL REFERENCES app_user(id),
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    option_id TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (user_id, poll_id),
    FOREIGN KEY (option_id, poll_id) REFERENCES poll_option(id, poll_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_vote_option_id ON vote(option_id);
`
