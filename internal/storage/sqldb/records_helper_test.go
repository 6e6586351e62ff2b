package sqldb

import (
	"context"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"tag_ingester/internal/domain"
)

type recordRow struct {
	TopicID     int64   `db:"topic_id"`
	ItemID      int64   `db:"item_id"`
	Title       string  `db:"title"`
	PublishedAt float64 `db:"published_at"`
}

// listRecords returns a topic's stored records ordered by item id.
func listRecords(ctx context.Context, db *sqlx.DB, topicID int64) ([]domain.Record, error) {
	var rows []recordRow
	query := db.Rebind(`
		SELECT topic_id, item_id, title, published_at
		FROM records
		WHERE topic_id = ?
		ORDER BY item_id`)

	if err := db.SelectContext(ctx, &rows, query, topicID); err != nil {
		return nil, err
	}

	records := make([]domain.Record, len(rows))
	for i, row := range rows {
		records[i] = domain.Record{
			TopicID:     row.TopicID,
			ItemID:      row.ItemID,
			Title:       row.Title,
			PublishedAt: time.UnixMicro(int64(math.Round(row.PublishedAt * 1e6))).UTC(),
		}
	}
	return records, nil
}
