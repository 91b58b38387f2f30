package feed

import (
	"time"
)

type Metadata struct {
	Title       string
	Link        string
	Description string
	Language    string
}

type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	PublishedAt *time.Time
	Authors     []string // "email (name)", "name" or "email"
	Categories  []string
	Traffic     string // approximate search volume, trend feeds only

	ContentHash string
}
