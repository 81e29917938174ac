package stage

import (
	"fmt"
	"strings"
)

// Kind identifies one of the four page transformation stages.
type Kind int

const (
	Detect Kind = iota
	Recognize
	Translate
	Restore
)

// Kinds lists every stage in per-page execution order.
var Kinds = []Kind{Detect, Recognize, Translate, Restore}

func (k Kind) String() string {
	switch k {
	case Detect:
		return "detect"
	case Recognize:
		return "recognize"
	case Translate:
		return "translate"
	case Restore:
		return "restore"
	}
	return fmt.Sprintf("stage(%d)", int(k))
}

// ParseKind accepts the stage names used in configuration. "ocr" and "inpaint"
// are accepted as aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "detect", "detection":
		return Detect, nil
	case "recognize", "ocr":
		return Recognize, nil
	case "translate", "translation":
		return Translate, nil
	case "restore", "inpaint":
		return Restore, nil
	}
	return 0, fmt.Errorf("unknown stage %q", s)
}

// Set is a subset of the four stages.
type Set uint8

// NewSet builds a Set from kinds.
func NewSet(kinds ...Kind) Set {
	var s Set
	for _, k := range kinds {
		s |= 1 << uint(k)
	}
	return s
}

// All is the set of every stage.
func All() Set { return NewSet(Kinds...) }

// ParseSet parses a comma separated stage list. An empty string yields All.
func ParseSet(s string) (Set, error) {
	if strings.TrimSpace(s) == "" {
		return All(), nil
	}
	var out Set
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		k, err := ParseKind(part)
		if err != nil {
			return 0, err
		}
		out = out.With(k)
	}
	return out, nil
}

func (s Set) Has(k Kind) bool    { return s&(1<<uint(k)) != 0 }
func (s Set) With(k Kind) Set    { return s | 1<<uint(k) }
func (s Set) Without(k Kind) Set { return s &^ (1 << uint(k)) }
func (s Set) Empty() bool        { return s == 0 }

// Kinds returns the enabled stages in execution order.
func (s Set) Kinds() []Kind {
	var out []Kind
	for _, k := range Kinds {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (s Set) String() string {
	names := make([]string, 0, 4)
	for _, k := range s.Kinds() {
		names = append(names, k.String())
	}
	return strings.Join(names, ",")
}
