package access

import (
	"sort"
)

// Module is one navigable unit of the console (a menu entry). Group nodes
// have no Path; root nodes have no ParentID.
type Module struct {
	ID          int64     `json:"id" validate:"required"`
	Name        string    `json:"name" validate:"required"`
	Code        string    `json:"code" validate:"required"`
	Path        *string   `json:"path"`
	ParentID    *int64    `json:"parent_id"`
	SortOrder   int       `json:"sort_order"`
	Permissions []string  `json:"permissions" validate:"dive,required"`
	Children    []*Module `json:"children,omitempty" validate:"dive"`
}

// IsNavigable returns true when the module links to a page.
func (m *Module) IsNavigable() bool {
	return m.Path != nil && *m.Path != ""
}

// IsRoot returns true when the module has no parent.
func (m *Module) IsRoot() bool {
	return m.ParentID == nil
}

// clone copies the module without its children.
func (m *Module) clone() *Module {
	c := *m
	c.Permissions = append([]string(nil), m.Permissions...)
	c.Children = nil
	return &c
}

// ModuleTree is the navigation tree visible to one user. It is immutable
// once built.
type ModuleTree struct {
	roots  []*Module
	byCode map[string]*Module
}

// NewModuleTree builds a tree from a flat or already nested module list.
// Nested children are flattened first and re-linked through ParentID so
// both wire shapes produce the same tree. Modules whose parent is not in the
// list are promoted to roots.
func NewModuleTree(modules []*Module) *ModuleTree {
	flat := make([]*Module, 0, len(modules))
	var flatten func(list []*Module, parent *int64)
	flatten = func(list []*Module, parent *int64) {
		for _, m := range list {
			if m == nil {
				continue
			}
			c := m.clone()
			if c.ParentID == nil && parent != nil {
				pid := *parent
				c.ParentID = &pid
			}
			flat = append(flat, c)
			id := m.ID
			flatten(m.Children, &id)
		}
	}
	flatten(modules, nil)

	byID := make(map[int64]*Module, len(flat))
	tree := &ModuleTree{byCode: make(map[string]*Module, len(flat))}
	for _, m := range flat {
		if _, dup := byID[m.ID]; dup {
			continue
		}
		byID[m.ID] = m
		tree.byCode[m.Code] = m
	}

	for _, m := range flat {
		if byID[m.ID] != m {
			continue
		}
		if m.ParentID != nil {
			if parent, ok := byID[*m.ParentID]; ok && parent != m {
				parent.Children = append(parent.Children, m)
				continue
			}
		}
		tree.roots = append(tree.roots, m)
	}

	sortModules(tree.roots)
	return tree
}

// EmptyModuleTree returns a tree with no modules.
func EmptyModuleTree() *ModuleTree {
	return &ModuleTree{byCode: map[string]*Module{}}
}

func sortModules(list []*Module) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].SortOrder != list[j].SortOrder {
			return list[i].SortOrder < list[j].SortOrder
		}
		return list[i].ID < list[j].ID
	})
	for _, m := range list {
		sortModules(m.Children)
	}
}

// Roots returns the top-level modules.
func (t *ModuleTree) Roots() []*Module {
	if t == nil {
		return nil
	}
	return t.roots
}

// Len returns the number of modules in the tree.
func (t *ModuleTree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byCode)
}

// Find returns the module with the given code.
func (t *ModuleTree) Find(code string) (*Module, bool) {
	if t == nil {
		return nil, false
	}
	m, ok := t.byCode[code]
	return m, ok
}

// Actions returns the module's action codes the checker allows, in the
// module's own order.
func (t *ModuleTree) Actions(code string, can Checker) []string {
	m, ok := t.Find(code)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(m.Permissions))
	for _, p := range m.Permissions {
		if can.Can(p) {
			out = append(out, p)
		}
	}
	return out
}

// Navigation returns a pruned copy of the tree holding only navigable
// modules the checker grants at least one action on. Group nodes are kept
// when at least one descendant survives.
func (t *ModuleTree) Navigation(can Checker) []*Module {
	if t == nil {
		return nil
	}
	return pruneModules(t.roots, can)
}

func pruneModules(list []*Module, can Checker) []*Module {
	var out []*Module
	for _, m := range list {
		children := pruneModules(m.Children, can)
		visible := m.IsNavigable() && grantsAny(m, can)
		if !visible && len(children) == 0 {
			continue
		}
		c := m.clone()
		c.Children = children
		out = append(out, c)
	}
	return out
}

func grantsAny(m *Module, can Checker) bool {
	for _, p := range m.Permissions {
		if can.Can(p) {
			return true
		}
	}
	return false
}
