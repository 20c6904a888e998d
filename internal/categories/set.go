package categories

import (
	"strings"

	"github.com/mikey/llm-mail-sorter/internal/core"
)

// Set provides case-insensitive lookup over an account's configured
// categories. The classifier's answers are resolved through a Set so that a
// name outside the configured list is rejected instead of routed to an
// unknown folder.
type Set struct {
	ordered []core.Category
	byName  map[string]*core.Category
}

// NewSet builds a Set from the account's ordered category list. Names are
// matched after trimming and lowercasing; on duplicates the first entry wins.
func NewSet(cats []core.Category) *Set {
	s := &Set{
		ordered: cats,
		byName:  make(map[string]*core.Category, len(cats)),
	}
	for i := range s.ordered {
		key := normalize(s.ordered[i].Name)
		if key == "" {
			continue
		}
		if _, ok := s.byName[key]; !ok {
			s.byName[key] = &s.ordered[i]
		}
	}
	return s
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolve maps a classifier-returned name to the configured category, or
// reports false when the name is not configured for this account.
func (s *Set) Resolve(name string) (*core.Category, bool) {
	cat, ok := s.byName[normalize(name)]
	return cat, ok
}

// Names returns the configured category names in their configured order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.ordered))
	for i := range s.ordered {
		names = append(names, s.ordered[i].Name)
	}
	return names
}

// List returns the categories in their configured order.
func (s *Set) List() []core.Category {
	return s.ordered
}

// InPlace reports whether routing to cat leaves the message where it is,
// i.e. the category's target folder is the message's current folder.
func InPlace(cat *core.Category, currentFolder string) bool {
	if cat == nil {
		return false
	}
	return strings.EqualFold(cat.Folder, currentFolder)
}
