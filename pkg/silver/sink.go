package silver

import "context"

// Sink stores the tables of one date, replacing whatever the date held before.
type Sink interface {
	Replace(ctx context.Context, date string, t *Tables) error
	Close() error
}
