// Package media coordinates the preview carousel over a single
// message's embedded media. A carousel never spans media from other
// messages.
package media

import (
	"errors"

	"dreamhome-assistant/internal/markup"
)

var (
	// ErrNoMedia means the message contains no media references.
	ErrNoMedia = errors.New("message has no media")
	// ErrNotInMessage means the clicked URL is not one of the
	// message's media references.
	ErrNotInMessage = errors.New("clicked media is not part of the message")
)

// Carousel is preview state over one message's media nodes. The index
// wraps modulo the item count on navigation.
type Carousel struct {
	items []markup.Node
	index int
	open  bool
}

// OpenFromMessage parses the message text, scopes the carousel to its
// media references, and positions it on the clicked URL.
func OpenFromMessage(messageText, clickedURL string) (*Carousel, error) {
	return Open(markup.MediaRefs(messageText), clickedURL)
}

// Open builds a carousel from already-parsed media nodes, for callers
// that keep the parse result around.
func Open(refs []markup.Node, clickedURL string) (*Carousel, error) {
	if len(refs) == 0 {
		return nil, ErrNoMedia
	}
	for i, ref := range refs {
		if ref.URL == clickedURL {
			return &Carousel{items: refs, index: i, open: true}, nil
		}
	}
	return nil, ErrNotInMessage
}

// Current returns the media node under the cursor.
func (c *Carousel) Current() markup.Node {
	return c.items[c.index]
}

// Index returns the cursor position.
func (c *Carousel) Index() int { return c.index }

// Len returns the item count.
func (c *Carousel) Len() int { return len(c.items) }

// IsOpen reports whether the carousel is still showing.
func (c *Carousel) IsOpen() bool { return c.open }

// Next advances the cursor, wrapping past the last item.
func (c *Carousel) Next() int {
	c.index = (c.index + 1) % len(c.items)
	return c.index
}

// Previous moves the cursor back, wrapping before the first item.
func (c *Carousel) Previous() int {
	c.index = (c.index - 1 + len(c.items)) % len(c.items)
	return c.index
}

// Close dismisses the carousel (escape key or outside click).
func (c *Carousel) Close() { c.open = false }
