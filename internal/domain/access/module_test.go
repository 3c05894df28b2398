package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func idPtr(i int64) *int64     { return &i }

func flatModules() []*Module {
	return []*Module{
		{ID: 1, Name: "Bordereaux", Code: "bordereaux", SortOrder: 1},
		{ID: 2, Name: "Bordereau list", Code: "bordereau_list", Path: strPtr("/bordereaux"), ParentID: idPtr(1),
			Permissions: []string{"bordereau_list.view", "bordereau_list.export"}},
		{ID: 3, Name: "Bordereau detail", Code: "bordereau_detail", Path: strPtr("/bordereaux/:id"), ParentID: idPtr(1),
			Permissions: []string{"bordereau_detail.view", "bordereau_detail.edit", "bordereau_detail.delete"}},
		{ID: 4, Name: "Payments", Code: "payments", Path: strPtr("/payments"), SortOrder: 2,
			Permissions: []string{"payments.view"}},
	}
}

func TestNewPermissionSet(t *testing.T) {
	set := NewPermissionSet("x.view", "x.view", "", "y.edit")

	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Has("x.view"))
	assert.True(t, set.Can("y.edit"))
	assert.False(t, set.Has("z.delete"))
	assert.False(t, set.Has(""))
	assert.Equal(t, []string{"x.view", "y.edit"}, set.Codes())
}

func TestNewPermissionSet_CodesAreOpaque(t *testing.T) {
	set := NewPermissionSet(" x.view", "Y.EDIT")

	assert.True(t, set.Has(" x.view"))
	assert.False(t, set.Has("x.view"), "codes are not normalized")
	assert.True(t, set.Has("Y.EDIT"))
	assert.False(t, set.Has("y.edit"))
	assert.Equal(t, []string{" x.view", "Y.EDIT"}, set.Codes())
}

func TestPermissionSet_Zero(t *testing.T) {
	var set PermissionSet
	assert.True(t, set.IsEmpty())
	assert.False(t, set.Has("x.view"))
	assert.Empty(t, set.Codes())
}

func TestNewModuleTree_Flat(t *testing.T) {
	tree := NewModuleTree(flatModules())

	require.Len(t, tree.Roots(), 2)
	assert.Equal(t, "bordereaux", tree.Roots()[0].Code)
	assert.Equal(t, "payments", tree.Roots()[1].Code)
	require.Len(t, tree.Roots()[0].Children, 2)
	assert.Equal(t, 4, tree.Len())

	m, ok := tree.Find("bordereau_detail")
	require.True(t, ok)
	assert.True(t, m.IsNavigable())
	assert.False(t, m.IsRoot())
}

func TestNewModuleTree_Nested(t *testing.T) {
	nested := []*Module{
		{ID: 1, Name: "Bordereaux", Code: "bordereaux", Children: []*Module{
			{ID: 2, Name: "Bordereau list", Code: "bordereau_list", Path: strPtr("/bordereaux")},
		}},
	}

	tree := NewModuleTree(nested)

	require.Len(t, tree.Roots(), 1)
	require.Len(t, tree.Roots()[0].Children, 1)
	child, ok := tree.Find("bordereau_list")
	require.True(t, ok)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, int64(1), *child.ParentID)
	// input untouched
	assert.Nil(t, nested[0].Children[0].ParentID)
}

func TestNewModuleTree_OrphanBecomesRoot(t *testing.T) {
	tree := NewModuleTree([]*Module{
		{ID: 9, Name: "Orphan", Code: "orphan", Path: strPtr("/orphan"), ParentID: idPtr(42)},
	})

	require.Len(t, tree.Roots(), 1)
	assert.Equal(t, "orphan", tree.Roots()[0].Code)
}

func TestModuleTree_Navigation(t *testing.T) {
	tree := NewModuleTree(flatModules())
	perms := NewPermissionSet("bordereau_detail.view")

	nav := tree.Navigation(perms)

	require.Len(t, nav, 1)
	assert.Equal(t, "bordereaux", nav[0].Code)
	require.Len(t, nav[0].Children, 1)
	assert.Equal(t, "bordereau_detail", nav[0].Children[0].Code)

	// The source tree is not pruned.
	assert.Len(t, tree.Roots()[0].Children, 2)
}

func TestModuleTree_Navigation_NoPermissions(t *testing.T) {
	tree := NewModuleTree(flatModules())
	assert.Empty(t, tree.Navigation(NewPermissionSet()))
}

func TestModuleTree_Actions(t *testing.T) {
	tree := NewModuleTree(flatModules())
	perms := NewPermissionSet("bordereau_detail.view", "bordereau_detail.delete")

	assert.Equal(t,
		[]string{"bordereau_detail.view", "bordereau_detail.delete"},
		tree.Actions("bordereau_detail", perms))
	assert.Nil(t, tree.Actions("unknown", perms))
}

func TestSameUser(t *testing.T) {
	a := &Identity{UserID: 1}
	b := &Identity{UserID: 2}

	assert.True(t, SameUser(nil, nil))
	assert.False(t, SameUser(a, nil))
	assert.False(t, SameUser(nil, a))
	assert.False(t, SameUser(a, b))
	assert.True(t, SameUser(a, &Identity{UserID: 1, Name: "renamed"}))
}

func TestEmptyModuleTree(t *testing.T) {
	tree := EmptyModuleTree()
	assert.Equal(t, 0, tree.Len())
	_, ok := tree.Find("x")
	assert.False(t, ok)

	var nilTree *ModuleTree
	assert.Nil(t, nilTree.Roots())
	assert.Nil(t, nilTree.Navigation(NewPermissionSet("x")))
}
