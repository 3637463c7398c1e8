package gallery

import "fmt"

// PreviewMode selects the preview thumbnail size, which fixes how many
// previews a single detail page carries.
type PreviewMode string

const (
	PreviewNormal PreviewMode = "normal"
	PreviewLarge  PreviewMode = "large"
)

// PreviewConfig maps 1-based preview indices onto 0-based detail pages.
type PreviewConfig struct {
	Mode PreviewMode `json:"mode"`
	Rows int         `json:"rows"`
}

// DefaultPreviewConfig is four rows of normal previews.
func DefaultPreviewConfig() PreviewConfig {
	return PreviewConfig{Mode: PreviewNormal, Rows: 4}
}

// BatchSize returns the number of previews on one detail page.
func (c PreviewConfig) BatchSize() int {
	rows := c.Rows
	if rows <= 0 {
		rows = 4
	}
	if c.Mode == PreviewLarge {
		return 5 * rows
	}
	return 10 * rows
}

// PageNumber returns the detail page holding preview index (1-based).
func (c PreviewConfig) PageNumber(index int) int {
	if index < 1 {
		return 0
	}
	return (index - 1) / c.BatchSize()
}

// BatchRange returns the first and last preview index served together
// with index.
func (c PreviewConfig) BatchRange(index int) (lower, upper int) {
	size := c.BatchSize()
	lower = c.PageNumber(index)*size + 1
	return lower, lower + size - 1
}

// Validate checks the configuration.
func (c PreviewConfig) Validate() error {
	switch c.Mode {
	case PreviewNormal, PreviewLarge:
	default:
		return fmt.Errorf("unknown preview mode %q", c.Mode)
	}
	if c.Rows <= 0 {
		return fmt.Errorf("preview rows must be > 0 (got %d)", c.Rows)
	}
	return nil
}
