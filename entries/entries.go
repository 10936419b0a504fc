// Package entries edits the ordered list of labels a wheel is built from.
//
// All functions return new slices; the input is never modified, so a spin
// holding a snapshot of the list is unaffected by edits.
package entries

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrEmptyLabel      = errors.New("entry is empty")
	ErrIndexOutOfRange = errors.New("entry index out of range")
)

// Sample is the list a new wheel starts with when none is given.
func Sample() []string {
	return []string{"Alice", "Bob", "Charlie", "Diana", "Eve", "Frank", "Grace", "Henry"}
}

// Parse splits a text box into entries: one per line, trimmed, blank lines
// dropped.  Duplicates are kept.
func Parse(text string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Join is the inverse of Parse for lists Parse produced.
func Join(list []string) string {
	return strings.Join(list, "\n")
}

// Add appends label after trimming it.
func Add(list []string, label string) ([]string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, ErrEmptyLabel
	}
	return append(slices.Clone(list), label), nil
}

// Normalize trims every label and rejects the list if any is empty.
func Normalize(list []string) ([]string, error) {
	out := make([]string, 0, len(list))
	for i, label := range list {
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("entry %d: %w", i, ErrEmptyLabel)
		}
		out = append(out, label)
	}
	return out, nil
}

func RemoveIndex(list []string, index int) ([]string, error) {
	if index < 0 || index >= len(list) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(list))
	}
	return slices.Delete(slices.Clone(list), index, index+1), nil
}

// RemoveWinner removes exactly one occurrence of a winning label.  If the
// list still holds label at index, that entry goes; otherwise the list was
// edited since the spin and the first equal label goes instead.  It reports
// whether anything was removed.
func RemoveWinner(list []string, index int, label string) ([]string, bool) {
	if index >= 0 && index < len(list) && list[index] == label {
		out, _ := RemoveIndex(list, index)
		return out, true
	}
	if i := slices.Index(list, label); i >= 0 {
		out, _ := RemoveIndex(list, i)
		return out, true
	}
	return slices.Clone(list), false
}

// CountLabel formats an entry count for people.
func CountLabel(n int) string {
	if n == 1 {
		return "1 entry"
	}
	return fmt.Sprintf("%d entries", n)
}
