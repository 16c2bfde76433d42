// Package ingestion defines the content submitted by clients and the item
// format carried on the queue between the ingestion gateway and the
// indexing consumer.
package ingestion

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index"
)

// Response messages returned once content has been accepted.
const (
	MessageQueued     = "Content added to the queue for processing"
	MessageQueuedBulk = "Content added to the queue for processing in bulk"
)

// ContentInput is the JSON body of a submit request, and each element of a
// bulk submit.
type ContentInput struct {
	Title  string `json:"title"`
	Text   string `json:"text"`
	Author string `json:"author"`
}

// ContentItem is the queue payload. Date (index.DateLayout, UTC) and User
// are stamped by the gateway; the item is never modified after publishing.
type ContentItem struct {
	Title  string `json:"title"`
	Text   string `json:"text"`
	Author string `json:"author"`
	Date   string `json:"date"`
	User   string `json:"user"`
}

// Ack is the body returned for an accepted submission.
type Ack struct {
	Message string `json:"message"`
}

// Document maps the item field-for-field onto an index document. seq is the
// queue position the item was read from.
func (c ContentItem) Document(seq int64) (index.Document, error) {
	date, err := index.ParseDate(c.Date)
	if err != nil {
		return index.Document{}, fmt.Errorf("parsing date %q: %w", c.Date, err)
	}
	return index.Document{
		Title:  c.Title,
		Text:   c.Text,
		Author: c.Author,
		Date:   date,
		User:   c.User,
		Seq:    seq,
	}, nil
}
