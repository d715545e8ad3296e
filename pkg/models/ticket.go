// Package models contains domain models for sentiment-checker.
package models

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// VectorIDSeparator joins ticket and comment IDs in a ScoredVector key.
const VectorIDSeparator = "#"

// Metadata keys of a ScoredVector.
const (
	MetaText         = "text"
	MetaTimestamp    = "timestamp"
	MetaEmotionScore = "emotion_score"
)

// ID is an opaque identifier. JSON numbers are coerced to their decimal
// string form so that 42 and "42" address the same entity.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the raw identifier.
func (id ID) String() string { return string(id) }

// VectorID builds the ScoredVector key for a comment of a ticket.
func VectorID(ticketID, commentID string) string {
	return ticketID + VectorIDSeparator + commentID
}

// TicketPrefix is the list prefix covering every comment vector of a ticket.
func TicketPrefix(ticketID string) string {
	return ticketID + VectorIDSeparator
}

// SplitVectorID returns the ticket and comment parts of a vector key.
func SplitVectorID(vectorID string) (ticketID, commentID string, ok bool) {
	return strings.Cut(vectorID, VectorIDSeparator)
}

// FlexTime is an instant accepted as an ISO-8601 string or as integer epoch
// seconds. Unparseable input leaves it invalid instead of failing decoding.
type FlexTime struct {
	Time  time.Time
	Valid bool
}

var flexLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseFlexTime parses a string or epoch-second value.
func ParseFlexTime(raw string) (FlexTime, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return FlexTime{}, false
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return FlexTime{Time: time.Unix(secs, 0).UTC(), Valid: true}, true
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return FlexTime{Time: time.Unix(int64(secs), 0).UTC(), Valid: true}, true
	}
	for _, layout := range flexLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return FlexTime{Time: t.UTC(), Valid: true}, true
		}
	}
	return FlexTime{}, false
}

// UnmarshalJSON never fails; bad values produce an invalid FlexTime.
func (ft *FlexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			*ft = FlexTime{}
			return nil
		}
	} else {
		raw = string(data)
	}
	parsed, _ := ParseFlexTime(raw)
	*ft = parsed
	return nil
}

// MarshalJSON renders valid times as RFC 3339 and invalid ones as null.
func (ft FlexTime) MarshalJSON() ([]byte, error) {
	if !ft.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(ft.Time.Format(time.RFC3339))
}

// Or returns the parsed time, or fallback when invalid.
func (ft FlexTime) Or(fallback time.Time) time.Time {
	if ft.Valid {
		return ft.Time
	}
	return fallback
}

// Comment is one ticket comment as received from the helpdesk.
type Comment struct {
	ID        ID       `json:"id"`
	Body      string   `json:"body"`
	CreatedAt FlexTime `json:"created_at"`
	AuthorID  ID       `json:"author_id,omitempty"`
}

// UnmarshalJSON also accepts the legacy "text" field for the body.
func (c *Comment) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        ID       `json:"id"`
		Body      *string  `json:"body"`
		Text      *string  `json:"text"`
		Value     *string  `json:"value"`
		CreatedAt FlexTime `json:"created_at"`
		AuthorID  ID       `json:"author_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.ID = raw.ID
	c.CreatedAt = raw.CreatedAt
	c.AuthorID = raw.AuthorID
	switch {
	case raw.Body != nil:
		c.Body = *raw.Body
	case raw.Text != nil:
		c.Body = *raw.Text
	case raw.Value != nil:
		c.Body = *raw.Value
	default:
		c.Body = ""
	}
	return nil
}

// CommentList decodes either a JSON array of comments or the legacy object
// keyed by comment ID, whose values are a body string or a comment object.
type CommentList []Comment

// UnmarshalJSON implements both accepted shapes.
func (cl *CommentList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*cl = nil
		return nil
	}
	if data[0] == '[' {
		var list []Comment
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*cl = list
		return nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(data, &keyed); err != nil {
		return fmt.Errorf("comments must be an array or an object: %w", err)
	}
	ids := make([]string, 0, len(keyed))
	for id := range keyed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	list := make([]Comment, 0, len(keyed))
	for _, id := range ids {
		raw := bytes.TrimSpace(keyed[id])
		var c Comment
		if len(raw) > 0 && raw[0] == '"' {
			if err := json.Unmarshal(raw, &c.Body); err != nil {
				return err
			}
		} else if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		if c.ID == "" {
			c.ID = ID(id)
		}
		list = append(list, c)
	}
	*cl = list
	return nil
}

// TicketStatus is the helpdesk status label of a ticket.
type TicketStatus string

const (
	StatusNew     TicketStatus = "new"
	StatusOpen    TicketStatus = "open"
	StatusPending TicketStatus = "pending"
	StatusHold    TicketStatus = "hold"
	StatusSolved  TicketStatus = "solved"
	StatusClosed  TicketStatus = "closed"
	StatusUnknown TicketStatus = "unknown"
)

// IsUnsolved reports whether the status denotes still-open work.
func (s TicketStatus) IsUnsolved() bool {
	switch TicketStatus(strings.ToLower(strings.TrimSpace(string(s)))) {
	case StatusNew, StatusOpen, StatusPending:
		return true
	}
	return false
}

// Ticket is one ticket of an inbound batch.
type Ticket struct {
	ID        ID           `json:"id"`
	Status    TicketStatus `json:"status,omitempty"`
	CreatedAt FlexTime     `json:"created_at"`
	UpdatedAt FlexTime     `json:"updated_at"`
	Comments  CommentList  `json:"comments,omitempty"`
}

// UnmarshalJSON also accepts the legacy "ticketId" field.
func (t *Ticket) UnmarshalJSON(data []byte) error {
	type plain Ticket
	var raw struct {
		plain
		TicketID ID `json:"ticketId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = Ticket(raw.plain)
	if t.ID == "" {
		t.ID = raw.TicketID
	}
	return nil
}

// ScoredVector is the persisted unit of work for one comment.
type ScoredVector struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Timestamp    int64     `json:"timestamp"`
	EmotionScore float64   `json:"emotion_score"`
	Values       []float32 `json:"-"`
}

// Metadata returns the metadata map persisted with the vector.
func (v ScoredVector) Metadata() map[string]any {
	return map[string]any{
		MetaText:         v.Text,
		MetaTimestamp:    v.Timestamp,
		MetaEmotionScore: v.EmotionScore,
	}
}

// CommentResult is the outcome of memoizing one comment.
type CommentResult struct {
	CommentID     string  `json:"comment_id"`
	EmotionScore  float64 `json:"emotion_score"`
	UpsertedCount int     `json:"upserted_count"`
}

// TicketAggregate is the recency-weighted sentiment of one ticket.
type TicketAggregate struct {
	TicketID      string       `json:"ticket_id"`
	WeightedScore float64      `json:"weighted_score"`
	Status        TicketStatus `json:"status"`
	CommentCount  int          `json:"comment_count"`
	LastCommentAt int64        `json:"last_comment_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
