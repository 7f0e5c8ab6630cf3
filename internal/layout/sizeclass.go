package layout

import (
	"fmt"
	"strings"
)

// SizeClass selects the glyph size a display renders text with.
type SizeClass string

const (
	Small  SizeClass = "small"
	Medium SizeClass = "medium"
	Large  SizeClass = "large"
)

// Budgets maps each size class to a characters-per-line budget.
type Budgets struct {
	Small  int
	Medium int
	Large  int
}

// DefaultBudgets match the 960px main area at the firmware's three font sizes.
var DefaultBudgets = Budgets{Small: 55, Medium: 45, Large: 35}

// For returns the budget of class. Unknown classes use the medium budget.
func (b Budgets) For(class SizeClass) int {
	switch class {
	case Small:
		return b.Small
	case Large:
		return b.Large
	default:
		return b.Medium
	}
}

// Validate checks that every budget is positive and the tiers are distinct.
func (b Budgets) Validate() error {
	if b.Small <= 0 || b.Medium <= 0 || b.Large <= 0 {
		return fmt.Errorf("text budgets must be positive (small=%d medium=%d large=%d)", b.Small, b.Medium, b.Large)
	}
	if b.Small == b.Medium || b.Medium == b.Large || b.Small == b.Large {
		return fmt.Errorf("text budgets must be distinct (small=%d medium=%d large=%d)", b.Small, b.Medium, b.Large)
	}
	return nil
}

// ParseSizeClass normalizes s. Empty or unrecognized input yields Medium.
func ParseSizeClass(s string) SizeClass {
	switch SizeClass(strings.ToLower(strings.TrimSpace(s))) {
	case Small:
		return Small
	case Large:
		return Large
	default:
		return Medium
	}
}

// WrapFor wraps text at the budget of class.
func (b Budgets) WrapFor(text string, class SizeClass) string {
	return Wrap(text, b.For(class))
}
