package sqldb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"tag_ingester/internal/domain"
)

type TopicStore struct {
	db *sqlx.DB
}

func NewTopicStore(db *sqlx.DB) *TopicStore {
	return &TopicStore{db: db}
}

// IDByName looks up a topic id by exact name.
func (s *TopicStore) IDByName(ctx context.Context, name string) (int64, bool, error) {
	exec := GetExecutor(ctx, s.db)

	var id int64
	query := exec.Rebind(`SELECT topic_id FROM topics WHERE topic_name = ? ORDER BY topic_id LIMIT 1`)
	err := sqlx.GetContext(ctx, exec, &id, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &domain.StorageError{Op: "get topic id", Err: err}
	}
	return id, true, nil
}

// NameByID looks up the stored name of a topic.
func (s *TopicStore) NameByID(ctx context.Context, id int64) (string, bool, error) {
	exec := GetExecutor(ctx, s.db)

	var name string
	query := exec.Rebind(`SELECT topic_name FROM topics WHERE topic_id = ?`)
	err := sqlx.GetContext(ctx, exec, &name, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &domain.StorageError{Op: "get topic name", Err: err}
	}
	return name, true, nil
}

// InsertIfAbsent stores the topic unless its id is already present. The
// first stored name for an id is kept. Reports whether a row was written.
func (s *TopicStore) InsertIfAbsent(ctx context.Context, topic domain.Topic) (bool, error) {
	exec := GetExecutor(ctx, s.db)

	query := exec.Rebind(`
		INSERT INTO topics (topic_id, topic_name)
		VALUES (?, ?)
		ON CONFLICT (topic_id) DO NOTHING`)

	res, err := exec.ExecContext(ctx, query, topic.ID, topic.Name)
	if err != nil {
		return false, &domain.StorageError{Op: "insert topic", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, &domain.StorageError{Op: "insert topic", Err: err}
	}
	return n > 0, nil
}

// List returns every stored topic ordered by id.
func (s *TopicStore) List(ctx context.Context) ([]domain.Topic, error) {
	var topics []domain.Topic
	err := s.db.SelectContext(ctx, &topics, `SELECT topic_id, topic_name FROM topics ORDER BY topic_id`)
	if err != nil {
		return nil, &domain.StorageError{Op: "list topics", Err: err}
	}
	return topics, nil
}
