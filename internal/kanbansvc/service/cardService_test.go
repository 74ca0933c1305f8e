package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/avvvet/kanban-services/internal/comm"
	"github.com/avvvet/kanban-services/internal/kanbansvc/models"
	"github.com/avvvet/kanban-services/internal/kanbansvc/service"
	"github.com/avvvet/kanban-services/internal/kanbansvc/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []comm.CardEvent
}

func (r *recordingNotifier) Notify(e comm.CardEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) all() []comm.CardEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]comm.CardEvent(nil), r.events...)
}

type failingStore struct {
	err error
}

func (f *failingStore) Load(context.Context) (models.Collection, error) {
	return nil, f.err
}

func (f *failingStore) Save(context.Context, models.Collection) error {
	return f.err
}

func newService(t *testing.T) (*service.CardService, *recordingNotifier) {
	t.Helper()
	s := service.NewCardService(store.NewFileStore(filepath.Join(t.TempDir(), "cards.json")), "test-instance")
	n := &recordingNotifier{}
	s.AddNotifier(n)
	return s, n
}

func card(t *testing.T, s string) models.Card {
	t.Helper()
	var c models.Card
	require.NoError(t, json.Unmarshal([]byte(s), &c))
	return c
}

func collectionJSON(t *testing.T, cs models.Collection) string {
	t.Helper()
	out, err := json.Marshal(cs)
	require.NoError(t, err)
	return string(out)
}

func TestListEmptyStart(t *testing.T) {
	s, _ := newService(t)

	cards, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "[]", collectionJSON(t, cards))
}

func TestAppendThenList(t *testing.T) {
	s, n := newService(t)
	ctx := context.Background()

	_, err := s.Append(ctx, card(t, `{"id":"a0"}`))
	require.NoError(t, err)

	stored, err := s.Append(ctx, card(t, `{"id":"a1","title":"Design spec"}`))
	require.NoError(t, err)
	out, _ := json.Marshal(stored)
	assert.JSONEq(t, `{"id":"a1","title":"Design spec"}`, string(out))

	cards, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	last, _ := json.Marshal(cards[len(cards)-1])
	assert.JSONEq(t, `{"id":"a1","title":"Design spec"}`, string(last))

	events := n.all()
	require.Len(t, events, 2)
	assert.Equal(t, comm.EventCardCreated, events[1].Type)
	assert.Equal(t, "a1", events[1].CardID)
	assert.Equal(t, 2, events[1].Count)
	assert.Equal(t, "test-instance", events[1].Instance)
}

func TestAppendAssignsMissingID(t *testing.T) {
	s, _ := newService(t)

	stored, err := s.Append(context.Background(), card(t, `{"title":"no id"}`))
	require.NoError(t, err)

	id, ok := stored.ID()
	require.True(t, ok)
	assert.Len(t, id, 36)
}

func TestAppendRejectsNonStringID(t *testing.T) {
	s, n := newService(t)

	_, err := s.Append(context.Background(), card(t, `{"id":12}`))
	assert.ErrorIs(t, err, models.ErrInvalidCardID)
	assert.Empty(t, n.all())
}

func TestReplaceAllIdempotent(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	cards := models.Collection{card(t, `{"id":"b"}`), card(t, `{"id":"a"}`)}

	n1, err := s.ReplaceAll(ctx, cards)
	require.NoError(t, err)
	first, err := s.List(ctx)
	require.NoError(t, err)

	n2, err := s.ReplaceAll(ctx, cards)
	require.NoError(t, err)
	second, err := s.List(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, n1)
	assert.Equal(t, n1, n2)
	assert.JSONEq(t, collectionJSON(t, first), collectionJSON(t, second))
	assert.JSONEq(t, `[{"id":"b"},{"id":"a"}]`, collectionJSON(t, second))
}

func TestReplaceAllWithNil(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	_, err := s.Append(ctx, card(t, `{"id":"a"}`))
	require.NoError(t, err)

	count, err := s.ReplaceAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	cards, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestReplaceOneKeepsPosition(t *testing.T) {
	s, n := newService(t)
	ctx := context.Background()
	_, err := s.ReplaceAll(ctx, models.Collection{
		card(t, `{"id":"a","v":1}`),
		card(t, `{"id":"b","v":1}`),
		card(t, `{"id":"c","v":1}`),
	})
	require.NoError(t, err)

	got, matched, err := s.ReplaceOne(ctx, "b", card(t, `{"id":"b","v":2}`))
	require.NoError(t, err)
	assert.True(t, matched)
	out, _ := json.Marshal(got)
	assert.JSONEq(t, `{"id":"b","v":2}`, string(out))

	cards, err := s.List(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a","v":1},{"id":"b","v":2},{"id":"c","v":1}]`, collectionJSON(t, cards))

	events := n.all()
	assert.Equal(t, comm.EventCardUpdated, events[len(events)-1].Type)
}

func TestReplaceOneOnlyFirstMatch(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	_, err := s.ReplaceAll(ctx, models.Collection{card(t, `{"id":"d","n":1}`), card(t, `{"id":"d","n":2}`)})
	require.NoError(t, err)

	_, _, err = s.ReplaceOne(ctx, "d", card(t, `{"id":"d","n":9}`))
	require.NoError(t, err)

	cards, err := s.List(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"d","n":9},{"id":"d","n":2}]`, collectionJSON(t, cards))
}

func TestReplaceOneNotFoundIsSilent(t *testing.T) {
	s, n := newService(t)
	ctx := context.Background()
	_, err := s.ReplaceAll(ctx, models.Collection{card(t, `{"id":"a"}`)})
	require.NoError(t, err)
	before := len(n.all())

	got, matched, err := s.ReplaceOne(ctx, "missing", card(t, `{"id":"missing","title":"ghost"}`))
	require.NoError(t, err)
	assert.False(t, matched)
	out, _ := json.Marshal(got)
	assert.JSONEq(t, `{"id":"missing","title":"ghost"}`, string(out))

	cards, err := s.List(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a"}]`, collectionJSON(t, cards))
	assert.Len(t, n.all(), before)
}

func TestDeleteRemovesAllMatching(t *testing.T) {
	s, n := newService(t)
	ctx := context.Background()
	_, err := s.ReplaceAll(ctx, models.Collection{
		card(t, `{"id":"dup","n":1}`),
		card(t, `{"id":"keep"}`),
		card(t, `{"id":"dup","n":2}`),
	})
	require.NoError(t, err)

	removed, err := s.Delete(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	cards, err := s.List(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"keep"}]`, collectionJSON(t, cards))

	events := n.all()
	last := events[len(events)-1]
	assert.Equal(t, comm.EventCardDeleted, last.Type)
	assert.Equal(t, 2, last.Matched)
	assert.Equal(t, 1, last.Count)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	s, _ := newService(t)

	removed, err := s.Delete(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestConcurrentAppendsAreAllKept(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		c := card(t, fmt.Sprintf(`{"id":"c%d"}`, i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, c)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cards, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, cards, n)
}

func TestStorageErrorsPropagate(t *testing.T) {
	serr := &store.StorageError{Op: "load", Path: "x", Err: errors.New("disk gone")}
	s := service.NewCardService(&failingStore{err: serr}, "i")

	_, err := s.List(context.Background())
	assert.ErrorAs(t, err, &serr)

	_, err = s.Append(context.Background(), card(t, `{"id":"a"}`))
	assert.ErrorIs(t, err, serr)

	_, err = s.ReplaceAll(context.Background(), models.Collection{})
	assert.ErrorIs(t, err, serr)

	_, _, err = s.ReplaceOne(context.Background(), "a", card(t, `{"id":"a"}`))
	assert.ErrorIs(t, err, serr)

	_, err = s.Delete(context.Background(), "a")
	assert.ErrorIs(t, err, serr)
}
