package ml

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// LabelTable maps classifier output classes to display labels. It is built
// once per deployment and never modified afterwards.
type LabelTable struct {
	byClass map[int]string
	byLabel map[string]int
	classes []int
}

// NewLabelTable validates and freezes a class→label mapping. Classes must be
// non-negative and labels non-empty and unique.
func NewLabelTable(labels map[int]string) (*LabelTable, error) {
	if len(labels) == 0 {
		return nil, errors.New("label table is empty")
	}

	t := &LabelTable{
		byClass: make(map[int]string, len(labels)),
		byLabel: make(map[string]int, len(labels)),
		classes: make([]int, 0, len(labels)),
	}
	for class, label := range labels {
		if class < 0 {
			return nil, fmt.Errorf("label table: negative class %d", class)
		}
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("label table: class %d has an empty label", class)
		}
		if other, dup := t.byLabel[label]; dup {
			return nil, fmt.Errorf("label table: label %q used by classes %d and %d",
				label, min(class, other), max(class, other))
		}
		t.byClass[class] = label
		t.byLabel[label] = class
		t.classes = append(t.classes, class)
	}
	sort.Ints(t.classes)
	return t, nil
}

// ParseLabelSpec parses the "0=normal,1=RB" form used in environment config.
func ParseLabelSpec(spec string) (map[int]string, error) {
	out := make(map[int]string)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("label spec %q: expected class=label", part)
		}
		class, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("label spec %q: class must be an integer: %w", part, err)
		}
		if _, dup := out[class]; dup {
			return nil, fmt.Errorf("label spec: class %d given twice", class)
		}
		out[class] = strings.TrimSpace(v)
	}
	if len(out) == 0 {
		return nil, errors.New("label spec is empty")
	}
	return out, nil
}

// Label resolves a class index.
func (t *LabelTable) Label(class int) (string, error) {
	label, ok := t.byClass[class]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownClass, class)
	}
	return label, nil
}

// Class is the inverse of Label.
func (t *LabelTable) Class(label string) (int, bool) {
	class, ok := t.byLabel[label]
	return class, ok
}

// Classes returns the known classes in ascending order.
func (t *LabelTable) Classes() []int {
	out := make([]int, len(t.classes))
	copy(out, t.classes)
	return out
}

// Len is the number of labels.
func (t *LabelTable) Len() int {
	return len(t.classes)
}

// Map returns a copy of the mapping.
func (t *LabelTable) Map() map[int]string {
	out := make(map[int]string, len(t.byClass))
	for k, v := range t.byClass {
		out[k] = v
	}
	return out
}

// String renders the table in ParseLabelSpec form.
func (t *LabelTable) String() string {
	parts := make([]string, len(t.classes))
	for i, c := range t.classes {
		parts[i] = fmt.Sprintf("%d=%s", c, t.byClass[c])
	}
	return strings.Join(parts, ",")
}
