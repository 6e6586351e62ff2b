package sqldb

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"tag_ingester/internal/domain"
)

// insertChunkSize keeps multi-row inserts under the bind parameter limits
// of both Postgres and SQLite.
const insertChunkSize = 500

type RecordStore struct {
	db        *sqlx.DB
	txManager *TransactionManager
}

func NewRecordStore(db *sqlx.DB) *RecordStore {
	return &RecordStore{db: db, txManager: NewTransactionManager(db)}
}

// InsertBatch stores the records whose (topic_id, item_id) is not yet
// present and returns how many rows were written. Existing rows are left
// untouched. The whole batch commits or none of it does.
func (s *RecordStore) InsertBatch(ctx context.Context, records []domain.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		exec := GetExecutor(txCtx, s.db)
		for start := 0; start < len(records); start += insertChunkSize {
			end := min(start+insertChunkSize, len(records))
			n, err := insertChunk(txCtx, exec, records[start:end])
			if err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, &domain.StorageError{Op: "insert records", Err: err}
	}

	return inserted, nil
}

func insertChunk(ctx context.Context, exec sqlx.ExtContext, records []domain.Record) (int, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO records (topic_id, item_id, title, published_at) VALUES ")
	valueArgs := make([]interface{}, 0, len(records)*4)

	for i, r := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?)")
		valueArgs = append(valueArgs, r.TopicID, r.ItemID, r.Title, toUnixSeconds(r.PublishedAt))
	}
	sb.WriteString(" ON CONFLICT (topic_id, item_id) DO NOTHING")

	res, err := exec.ExecContext(ctx, exec.Rebind(sb.String()), valueArgs...)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CountByTopic returns the number of stored records for a topic.
func (s *RecordStore) CountByTopic(ctx context.Context, topicID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM records WHERE topic_id = ?`), topicID)
	if err != nil {
		return 0, &domain.StorageError{Op: "count records", Err: err}
	}
	return count, nil
}

func toUnixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
