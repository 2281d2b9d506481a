package memory_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"ctdms/internal/domain"
	"ctdms/internal/port"
	"ctdms/internal/repository/memory"
)

func newVersion(name string) *domain.Version {
	return &domain.Version{
		ID:         uuid.New(),
		FileName:   name,
		FileSize:   42,
		Checksum:   "sha256:" + name,
		StorageKey: "studies/x/" + name,
		UploadedBy: uuid.New(),
	}
}

func createDoc(t *testing.T, store *memory.DocumentStore) *domain.DocumentState {
	t.Helper()
	doc := &domain.Document{ID: uuid.New(), StudyID: uuid.New(), Title: "Protocol", CreatedBy: uuid.New()}
	state, err := store.Create(context.Background(), doc, newVersion("v1.pdf"))
	require.NoError(t, err)
	return state
}

func TestDocumentStore_CreateStartsAtOne(t *testing.T) {
	store := memory.NewDocumentStore()
	state := createDoc(t, store)

	require.NotNil(t, state.Current)
	assert.Equal(t, 1, state.Current.DocumentNumber)
	assert.Equal(t, state.Current.ID, *state.Document.CurrentVersionID)
	assert.Equal(t, state.Document.ID, state.Current.DocumentID)
	assert.Equal(t, domain.StatusDraft, state.Status())
}

func TestDocumentStore_ConcurrentNewVersionsAreGapless(t *testing.T) {
	store := memory.NewDocumentStore()
	state := createDoc(t, store)
	const uploads = 25

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < uploads; i++ {
		g.Go(func() error {
			_, err := store.Transition(ctx, state.Document.ID, func(*domain.DocumentState) (*port.DocumentChange, error) {
				return &port.DocumentChange{NewVersion: newVersion("next.pdf")}, nil
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	versions, err := store.ListVersions(context.Background(), state.Document.ID)
	require.NoError(t, err)
	require.Len(t, versions, uploads+1)

	numbers := make([]int, len(versions))
	for i, v := range versions {
		numbers[i] = v.DocumentNumber
	}
	sort.Ints(numbers)
	for i, n := range numbers {
		assert.Equal(t, i+1, n)
	}

	final, err := store.GetState(context.Background(), state.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, uploads+1, final.Current.DocumentNumber)
}

func TestDocumentStore_TransitionErrorLeavesStateUntouched(t *testing.T) {
	store := memory.NewDocumentStore()
	state := createDoc(t, store)
	boom := errors.New("boom")

	_, err := store.Transition(context.Background(), state.Document.ID, func(s *domain.DocumentState) (*port.DocumentChange, error) {
		s.Document.IsArchived = true
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	after, err := store.GetState(context.Background(), state.Document.ID)
	require.NoError(t, err)
	assert.False(t, after.Document.IsArchived)
}

func TestDocumentStore_RepointRejectsForeignVersion(t *testing.T) {
	store := memory.NewDocumentStore()
	a := createDoc(t, store)
	b := createDoc(t, store)

	_, err := store.Transition(context.Background(), a.Document.ID, func(*domain.DocumentState) (*port.DocumentChange, error) {
		return &port.DocumentChange{Repoint: &b.Current.ID}, nil
	})
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)

	after, _ := store.GetState(context.Background(), a.Document.ID)
	assert.Equal(t, a.Current.ID, after.Current.ID)
}

func TestDocumentStore_List(t *testing.T) {
	store := memory.NewDocumentStore()
	first := createDoc(t, store)
	second := createDoc(t, store)

	_, err := store.Transition(context.Background(), second.Document.ID, func(s *domain.DocumentState) (*port.DocumentChange, error) {
		doc := s.Document
		doc.IsDeleted = true
		return &port.DocumentChange{Document: &doc}, nil
	})
	require.NoError(t, err)

	list, total, err := store.List(context.Background(), domain.DocumentFilter{}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, first.Document.ID, list[0].Document.ID)

	list, total, err = store.List(context.Background(), domain.DocumentFilter{Status: domain.StatusDeleted}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, second.Document.ID, list[0].Document.ID)

	_, total, err = store.List(context.Background(), domain.DocumentFilter{IncludeDeleted: true}, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
