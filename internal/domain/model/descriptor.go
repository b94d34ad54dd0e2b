package model

import (
	"strings"
	"sync"
)

// AugmentDelimiter separates detail contributed by a reverify pass.
const AugmentDelimiter = "\n\n[Additional detail from another photo]: "

// TargetDescriptor is the shared description of the subject to remove.
// Augment only ever appends.
type TargetDescriptor struct {
	mu   sync.RWMutex
	text string
}

func NewTargetDescriptor() *TargetDescriptor {
	return &TargetDescriptor{}
}

func (d *TargetDescriptor) String() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.text
}

// Empty reports whether the descriptor holds no usable text.
func (d *TargetDescriptor) Empty() bool {
	return strings.TrimSpace(d.String()) == ""
}

// Set replaces the description. Used by identification and manual edits
// before a run starts.
func (d *TargetDescriptor) Set(text string) {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
}

// Augment appends detail and returns the resulting description.
func (d *TargetDescriptor) Augment(detail string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	detail = strings.TrimSpace(detail)
	switch {
	case detail == "":
	case d.text == "":
		d.text = detail
	default:
		d.text = d.text + AugmentDelimiter + detail
	}
	return d.text
}
