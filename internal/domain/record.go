package domain

import "time"

// Record is one syndicated item observed in a topic's feed.
// (TopicID, ItemID) identifies it.
type Record struct {
	TopicID     int64
	ItemID      int64
	Title       string
	PublishedAt time.Time
}

type RecordKey struct {
	TopicID int64
	ItemID  int64
}

func (r Record) Key() RecordKey {
	return RecordKey{TopicID: r.TopicID, ItemID: r.ItemID}
}

// Entry is a feed entry before it becomes a Record. PublishedAt holds the
// feed parser's own reading of Published and is zero when it had none.
type Entry struct {
	Title       string
	ExternalID  string
	Published   string
	PublishedAt time.Time
}

// Snapshot is the result of one fetch of a feed.
type Snapshot struct {
	Title   string
	Entries []Entry
}
