package storage

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("not found")

// DefaultType is the classification of a URL nobody has looked at yet.
const DefaultType = "unknown"

// MessageRecord is one chat message that carried a URL.
type MessageRecord struct {
	Date time.Time `json:"date"`
	Link string    `json:"chat_link"`
	URL  string    `json:"url"`
}

// URLAggregate accumulates every sighting of a single URL.
type URLAggregate struct {
	Description []string  `json:"description"`
	Summary     string    `json:"summary"`
	Type        string    `json:"type"`
	Links       []string  `json:"chat_links"`
	Count       int       `json:"count"`
	FirstSeen   time.Time `json:"date"`
}

// Entry is a classified message ready to be stored.
type Entry struct {
	Date        time.Time
	Link        string
	URL         string
	Description []string
	Summary     string
	Type        string
}

// Stats describes the size of the store.
type Stats struct {
	Messages int
	URLs     int
	Latest   time.Time
}

// Snapshot is a deep copy of the store contents used for persistence.
type Snapshot struct {
	Messages []MessageRecord
	URLs     map[string]URLAggregate
}

// Persister loads and saves store snapshots.
type Persister interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Store holds the chronological message log and the per-URL aggregates.
// It is not safe for concurrent use; the bot confines it to a single
// goroutine.
type Store struct {
	messages []MessageRecord
	urls     map[string]*URLAggregate
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		messages: []MessageRecord{},
		urls:     make(map[string]*URLAggregate),
	}
}

// AppendMessage adds a record to the log, keeping it ordered by date.
// Records with equal dates keep their insertion order.
func (s *Store) AppendMessage(rec MessageRecord) {
	rec.Date = rec.Date.UTC()

	n := len(s.messages)
	if n == 0 || !rec.Date.Before(s.messages[n-1].Date) {
		s.messages = append(s.messages, rec)
		return
	}

	i := sort.Search(n, func(i int) bool {
		return s.messages[i].Date.After(rec.Date)
	})
	s.messages = append(s.messages, MessageRecord{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = rec
}

// UpsertURL records a sighting of url. An existing aggregate gets its
// count incremented and link appended; otherwise a new aggregate is
// created. The returned bool is true when the aggregate was created.
func (s *Store) UpsertURL(url string, description []string, summary, typ, link string, seen time.Time) (URLAggregate, bool) {
	if agg, ok := s.urls[url]; ok {
		agg.Count++
		agg.Links = append(agg.Links, link)
		return cloneAggregate(*agg), false
	}

	if typ == "" {
		typ = DefaultType
	}
	agg := &URLAggregate{
		Description: append([]string{}, description...),
		Summary:     summary,
		Type:        typ,
		Links:       []string{link},
		Count:       1,
		FirstSeen:   seen.UTC(),
	}
	s.urls[url] = agg
	return cloneAggregate(*agg), true
}

// Add stores a classified message in both views.
func (s *Store) Add(e Entry) bool {
	s.AppendMessage(MessageRecord{Date: e.Date, Link: e.Link, URL: e.URL})
	_, created := s.UpsertURL(e.URL, e.Description, e.Summary, e.Type, e.Link, e.Date)
	return created
}

// Messages returns a copy of the message log.
func (s *Store) Messages() []MessageRecord {
	return append([]MessageRecord{}, s.messages...)
}

// Since returns the records dated strictly after t, oldest first.
func (s *Store) Since(t time.Time) []MessageRecord {
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].Date.After(t)
	})
	return append([]MessageRecord{}, s.messages[i:]...)
}

// Aggregate returns a copy of the aggregate for url.
func (s *Store) Aggregate(url string) (URLAggregate, bool) {
	agg, ok := s.urls[url]
	if !ok {
		return URLAggregate{}, false
	}
	return cloneAggregate(*agg), true
}

// Stats reports the size of both views.
func (s *Store) Stats() Stats {
	st := Stats{Messages: len(s.messages), URLs: len(s.urls)}
	if n := len(s.messages); n > 0 {
		st.Latest = s.messages[n-1].Date
	}
	return st
}

// Dedupe drops every record whose link equals the link of the record
// right before it and returns how many were dropped. Aggregates are left
// untouched.
func (s *Store) Dedupe() int {
	if len(s.messages) < 2 {
		return 0
	}

	kept := make([]MessageRecord, 1, len(s.messages))
	kept[0] = s.messages[0]
	for i := 1; i < len(s.messages); i++ {
		if s.messages[i].Link == s.messages[i-1].Link {
			continue
		}
		kept = append(kept, s.messages[i])
	}

	removed := len(s.messages) - len(kept)
	s.messages = kept
	return removed
}

// Snapshot returns a deep copy of the store contents.
func (s *Store) Snapshot() *Snapshot {
	snap := &Snapshot{
		Messages: s.Messages(),
		URLs:     make(map[string]URLAggregate, len(s.urls)),
	}
	for url, agg := range s.urls {
		snap.URLs[url] = cloneAggregate(*agg)
	}
	return snap
}

// Restore replaces the store contents with snap.
func (s *Store) Restore(snap *Snapshot) {
	s.messages = []MessageRecord{}
	s.urls = make(map[string]*URLAggregate)
	if snap == nil {
		return
	}

	for _, rec := range snap.Messages {
		s.AppendMessage(rec)
	}
	for url, agg := range snap.URLs {
		a := cloneAggregate(agg)
		s.urls[url] = &a
	}
}

func cloneAggregate(a URLAggregate) URLAggregate {
	a.Description = append([]string{}, a.Description...)
	a.Links = append([]string{}, a.Links...)
	return a
}
