package domain

import "strconv"

// Topic is a tracked subject identified by a stable numeric id.
type Topic struct {
	ID   int64  `db:"topic_id"`
	Name string `db:"topic_name"`
}

// TopicRef references a topic either by its display name or by its id.
// Build one with ByName or ByID.
type TopicRef struct {
	name  string
	id    int64
	byID  bool
	valid bool
}

func ByName(name string) TopicRef {
	return TopicRef{name: name, valid: true}
}

func ByID(id int64) TopicRef {
	return TopicRef{id: id, byID: true, valid: true}
}

// Name returns the referenced name when the ref was built with ByName.
func (r TopicRef) Name() (string, bool) {
	if !r.valid || r.byID {
		return "", false
	}
	return r.name, true
}

// ID returns the referenced id when the ref was built with ByID.
func (r TopicRef) ID() (int64, bool) {
	if !r.valid || !r.byID {
		return 0, false
	}
	return r.id, true
}

func (r TopicRef) IsZero() bool {
	return !r.valid
}

func (r TopicRef) String() string {
	switch {
	case !r.valid:
		return "<none>"
	case r.byID:
		return "id:" + strconv.FormatInt(r.id, 10)
	default:
		return "name:" + r.name
	}
}

// ResolvedTopic is the outcome of resolving a TopicRef. Name may be empty
// when the topic was referenced by id and has never been named.
type ResolvedTopic struct {
	ID      int64
	Name    string
	FeedURL string
}

// Discovery is what topic discovery learns from a topic's listing page.
type Discovery struct {
	FeedURL string
	Name    string
	ID      int64
}
