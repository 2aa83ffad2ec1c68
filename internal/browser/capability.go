// File: internal/browser/capability.go
package browser

import (
	"context"
	"time"
)

// Capability is the abstract browser surface the core drives. The runner and
// recovery layers depend only on this interface; the transport behind it
// (local CDP, remote IPC) is an implementation concern.
type Capability interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// Find returns the number of elements the selector currently matches.
	Find(ctx context.Context, selector string) (int, error)
	IsVisible(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	// Extract returns the trimmed text content of the first match.
	Extract(ctx context.Context, selector string) (string, error)
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error
	// Snapshot inventories the interesting elements of the current page for
	// the healing strategies.
	Snapshot(ctx context.Context) (*PageSnapshot, error)
	Close(ctx context.Context) error
}

// PageSnapshot is a point-in-time inventory of a page's addressable elements.
type PageSnapshot struct {
	URL      string    `json:"url"`
	Elements []Element `json:"elements"`
}

// Element describes one DOM element in a snapshot. Attrs carries every
// attribute; the named fields are the ones the healing cascade keys on.
type Element struct {
	Tag         string            `json:"tag"`
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name,omitempty"`
	TestID      string            `json:"testid,omitempty"`
	AriaLabel   string            `json:"aria,omitempty"`
	Placeholder string            `json:"placeholder,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attrs       map[string]string `json:"attrs,omitempty"`
	XPath       string            `json:"xpath"`
	Depth       int               `json:"depth"`
	SiblingPos  int               `json:"pos"`
}

// IsFormControl reports whether the element accepts user input.
func (e *Element) IsFormControl() bool {
	switch e.Tag {
	case "input", "select", "textarea", "button":
		return true
	}
	return false
}
