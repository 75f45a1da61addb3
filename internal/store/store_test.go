package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/drawcheck/internal/ledger"
	"github.com/dgallion1/drawcheck/internal/occurrence"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

const register = `Файл: a.pdf
Всего нарушений (кластеров): 1

[#001] страница 1
  Пункты: 1.1.3
  Описания:
   - (1.1.3) Буква «Б» на поле не упоминается в ТТ

[GLOBAL] 1.1.9: знак не по ГОСТ
`

func TestDocumentsAndRevisions(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	doc, err := s.CreateDocument(ctx, "АБВГ.123456.001", "dev")
	require.NoError(t, err)
	require.NotEmpty(t, doc.ID)

	r1, err := s.AddRevision(ctx, doc.ID, "a.pdf", "dev", []byte("%PDF-1"))
	require.NoError(t, err)
	r2, err := s.AddRevision(ctx, doc.ID, "b.pdf", "dev", []byte("%PDF-2"))
	require.NoError(t, err)
	assert.Equal(t, 1, r1.Version)
	assert.Equal(t, 2, r2.Version)
	assert.Equal(t, ledger.VerdictProcessing, r2.Verdict)

	revs, err := s.ListRevisions(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, r1.ID, revs[0].ID)
	assert.Equal(t, r2.ID, revs[1].ID)

	src, err := s.GetArtifact(ctx, r2.ID, ArtifactSource)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-2", string(src))

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.GetDocument(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.AddRevision(ctx, "missing", "a.pdf", "", nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.GetArtifact(ctx, "missing", ArtifactRegister)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.LoadHistory(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestArtifacts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	doc, _ := s.CreateDocument(ctx, "d", "")
	rev, err := s.AddRevision(ctx, doc.ID, "a.pdf", "", []byte("%PDF"))
	require.NoError(t, err)

	require.NoError(t, s.PutArtifact(ctx, rev.ID, ArtifactRegister, []byte(register)))
	require.NoError(t, s.PutArtifact(ctx, rev.ID, PageArtifact(1), []byte{0x89}))

	names, err := s.ListArtifacts(ctx, rev.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"page-001.png", "register.txt", "source.pdf"}, names)
}

func TestVerdictRemovedSticks(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	doc, _ := s.CreateDocument(ctx, "d", "")
	rev, _ := s.AddRevision(ctx, doc.ID, "a.pdf", "", []byte("%PDF"))

	_, err := s.SetVerdict(ctx, rev.ID, ledger.VerdictRemoved, "дубликат", "Петров", ledger.RoleReviewer)
	require.NoError(t, err)
	got, err := s.SetVerdict(ctx, rev.ID, ledger.VerdictRejected, "Остались нарушения", ledger.SystemAuthor, ledger.RoleSystem)
	require.NoError(t, err)
	assert.Equal(t, ledger.VerdictRemoved, got.Verdict)
	assert.Equal(t, "Петров", got.VerdictAuthor)
}

func TestAppendAutomaticIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	doc, _ := s.CreateDocument(ctx, "d", "")
	rev, _ := s.AddRevision(ctx, doc.ID, "a.pdf", "", []byte("%PDF"))

	d := ledger.Decision{RevisionID: rev.ID, OccurrenceID: "abcdef012345", Rule: "1.1.3", Status: ledger.StatusRejected, Kind: ledger.KindRegression}
	first, err := s.AppendAutomatic(ctx, []ledger.Decision{d, d})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, first[0].Automatic)
	assert.Equal(t, ledger.SystemAuthor, first[0].Author)
	assert.Equal(t, ledger.RoleSystem, first[0].Role)
	assert.Equal(t, "occ:abcdef012345", first[0].Key)
	assert.Equal(t, doc.ID, first[0].DocumentID)

	second, err := s.AppendAutomatic(ctx, []ledger.Decision{d})
	require.NoError(t, err)
	assert.Empty(t, second)

	all, err := s.Decisions(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAppendAutomaticConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	doc, _ := s.CreateDocument(ctx, "d", "")
	rev, _ := s.AddRevision(ctx, doc.ID, "a.pdf", "", []byte("%PDF"))
	d := ledger.Decision{RevisionID: rev.ID, Rule: "1.1.4", Status: ledger.StatusRejected}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AppendAutomatic(ctx, []ledger.Decision{d})
		}()
	}
	wg.Wait()

	all, err := s.Decisions(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLoadHistory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	doc, _ := s.CreateDocument(ctx, "d", "")
	r1, _ := s.AddRevision(ctx, doc.ID, "a.pdf", "", []byte("%PDF"))
	r2, _ := s.AddRevision(ctx, doc.ID, "b.pdf", "", []byte("%PDF"))
	require.NoError(t, s.PutArtifact(ctx, r1.ID, ArtifactRegister, []byte(register)))

	claim := ledger.Decision{
		RevisionID:   r2.ID,
		OccurrenceID: occurrence.ID("1.1.3", "Буква «Б» на поле не упоминается в ТТ"),
		Status:       ledger.StatusFixed,
		Author:       "dev",
		Role:         ledger.RoleDeveloper,
	}
	stored, err := s.AppendDecision(ctx, claim)
	require.NoError(t, err)
	assert.False(t, stored.Automatic)
	assert.NotEmpty(t, stored.ID)

	snap, err := s.LoadHistory(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, snap.Revisions, 2)

	first := snap.Revisions[0]
	assert.True(t, first.Analysed)
	assert.Equal(t, 2, first.Total)
	assert.Equal(t, map[string]int{"1.1.3": 1, "1.1.9": 1}, first.RuleCounts)
	assert.Contains(t, first.Occurrences, claim.OccurrenceID)
	assert.Contains(t, first.Occurrences, occurrence.ID("1.1.9", ""))

	assert.False(t, snap.Revisions[1].Analysed)
	require.Len(t, snap.Decisions, 1)
	assert.Equal(t, claim.OccurrenceID, snap.Decisions[0].OccurrenceID)
}
