package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haveloc/servehub/internal/core"
)

// mockServableStore is an in-memory core.ServableStore.
type mockServableStore struct {
	servables map[string]*core.Servable // keyed by namespace/name, newest only
	grants    map[int64]map[string]bool
}

func newMockServableStore() *mockServableStore {
	return &mockServableStore{
		servables: make(map[string]*core.Servable),
		grants:    make(map[int64]map[string]bool),
	}
}

func (m *mockServableStore) add(s *core.Servable) {
	m.servables[s.Shorthand()] = s
}

func (m *mockServableStore) grant(userID int64, servableUUID string) {
	if m.grants[userID] == nil {
		m.grants[userID] = make(map[string]bool)
	}
	m.grants[userID][servableUUID] = true
}

func (m *mockServableStore) ResolveServable(_ context.Context, ref core.ServableRef) (*core.Servable, error) {
	s, ok := m.servables[ref.String()]
	if !ok {
		return nil, core.ErrServableNotFound(ref.String())
	}
	return s, nil
}

func (m *mockServableStore) GetServable(_ context.Context, uuid string) (*core.Servable, error) {
	for _, s := range m.servables {
		if s.UUID == uuid {
			return s, nil
		}
	}
	return nil, core.ErrServableNotFound(uuid)
}

func (m *mockServableStore) ListServables(context.Context, core.Identity) ([]*core.Servable, error) {
	return nil, nil
}

func (m *mockServableStore) CreateServable(_ context.Context, s *core.Servable) error {
	m.add(s)
	return nil
}

func (m *mockServableStore) MarkServableDeleted(_ context.Context, uuid string) error {
	for _, s := range m.servables {
		if s.UUID == uuid {
			s.Status = core.ServableStatusDeleted
			return nil
		}
	}
	return core.ErrServableNotFound(uuid)
}

func (m *mockServableStore) HasGrant(_ context.Context, userID int64, servableUUID string) (bool, error) {
	return m.grants[userID][servableUUID], nil
}

func (m *mockServableStore) AddGrant(_ context.Context, userID int64, servableUUID string) error {
	m.grant(userID, servableUUID)
	return nil
}

var (
	alice   = core.Identity{UserID: 1, Username: "alice@example.org", Namespace: "alice_example"}
	mallory = core.Identity{UserID: 2, Username: "mallory@example.org", Namespace: "mallory_example"}
)

func testStore() *mockServableStore {
	store := newMockServableStore()
	store.add(&core.Servable{
		UUID: "u-open", Namespace: "alice", Name: "model1",
		Status: core.ServableStatusReady, Site: "site-a",
	})
	store.add(&core.Servable{
		UUID: "u-secret", Namespace: "bob", Name: "model2",
		Status: core.ServableStatusReady, Protected: true, Site: "site-b",
	})
	store.add(&core.Servable{
		UUID: "u-gone", Namespace: "bob", Name: "old",
		Status: core.ServableStatusDeleted, Site: "site-b",
	})
	store.grant(alice.UserID, "u-secret")
	return store
}

func TestCheckUnprotectedAllowsAnyone(t *testing.T) {
	t.Parallel()
	g := New(testStore())

	target, err := g.Check(context.Background(), mallory, core.ServableRef{Namespace: "alice", Name: "model1"})
	require.NoError(t, err)
	assert.False(t, target.Fanout())
	assert.Equal(t, []string{"site-a"}, target.Sites())
}

func TestCheckProtectedRequiresGrant(t *testing.T) {
	t.Parallel()
	g := New(testStore())
	ref := core.ServableRef{Namespace: "bob", Name: "model2"}

	target, err := g.Check(context.Background(), alice, ref)
	require.NoError(t, err)
	assert.Equal(t, "u-secret", target.Primary().UUID)

	_, err = g.Check(context.Background(), mallory, ref)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatDenied))
}

func TestCheckUnauthenticatedAlwaysDenied(t *testing.T) {
	t.Parallel()
	g := New(testStore())

	_, err := g.Check(context.Background(), core.Identity{}, core.ServableRef{Namespace: "alice", Name: "model1"})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatAuth))

	_, err = g.CheckPipeline(context.Background(), core.Identity{}, []core.ServableRef{{Namespace: "alice", Name: "model1"}})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatAuth))
}

func TestCheckDeletedServableNotFound(t *testing.T) {
	t.Parallel()
	g := New(testStore())

	_, err := g.Check(context.Background(), alice, core.ServableRef{Namespace: "bob", Name: "old"})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestCheckPipelineAllAllowed(t *testing.T) {
	t.Parallel()
	g := New(testStore())

	target, err := g.CheckPipeline(context.Background(), alice, []core.ServableRef{
		{Namespace: "alice", Name: "model1"},
		{Namespace: "bob", Name: "model2"},
	})
	require.NoError(t, err)
	assert.True(t, target.Fanout())
	assert.Equal(t, []string{"site-a", "site-b"}, target.Sites())
}

func TestCheckPipelineOneDenialDeniesAll(t *testing.T) {
	t.Parallel()
	g := New(testStore())

	// mallory may use alice/model1 but has no grant for bob/model2.
	_, err := g.CheckPipeline(context.Background(), mallory, []core.ServableRef{
		{Namespace: "alice", Name: "model1"},
		{Namespace: "bob", Name: "model2"},
	})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatDenied), "no partial pipelines")
}

func TestCheckPipelineEmpty(t *testing.T) {
	t.Parallel()
	g := New(testStore())

	_, err := g.CheckPipeline(context.Background(), alice, nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}
