package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

func TestDeliverablesMatchByUUIDThenTitle(t *testing.T) {
	s := Deliverables{Policy: DefaultPolicy()}
	candidates := []domain.Deliverable{
		{ID: 1, UUID: "u1", Title: "Alpha"},
		{ID: 2, UUID: "u2", Title: "Beta"},
	}

	got, ok := Resolve[domain.Deliverable](s, candidates, domain.Deliverable{UUID: "u2", Title: "Renamed"})
	require.True(t, ok)
	require.Equal(t, int64(2), got.ID)

	got, ok = Resolve[domain.Deliverable](s, candidates, domain.Deliverable{UUID: "churned", Title: "Alpha"})
	require.True(t, ok)
	require.Equal(t, int64(1), got.ID)

	_, ok = Resolve[domain.Deliverable](s, candidates, domain.Deliverable{UUID: "u9", Title: "Gamma"})
	require.False(t, ok)
}

func TestUnannouncedTitlesNeverMatch(t *testing.T) {
	s := Deliverables{Policy: DefaultPolicy()}
	candidates := []domain.Deliverable{{ID: 1, UUID: "u1", Title: "Unannounced"}}

	_, ok := Resolve[domain.Deliverable](s, candidates, domain.Deliverable{UUID: "u2", Title: "Unannounced"})
	require.False(t, ok)

	got, ok := Resolve[domain.Deliverable](s, candidates, domain.Deliverable{UUID: "u1", Title: "Unannounced"})
	require.True(t, ok)
	require.Equal(t, int64(1), got.ID)
}

func TestTitleFallbackCanBeDisabled(t *testing.T) {
	p := DefaultPolicy()
	p.DeliverableTitleFallback = false
	s := Deliverables{Policy: p}
	candidates := []domain.Deliverable{{ID: 1, UUID: "u1", Title: "Alpha"}}

	_, ok := Resolve[domain.Deliverable](s, candidates, domain.Deliverable{UUID: "u2", Title: "Alpha"})
	require.False(t, ok)
}

func TestDisciplineTitleFallbackIsOffByDefault(t *testing.T) {
	candidates := []domain.Discipline{{ID: 4, UUID: "a", Title: "Engineering"}}
	incoming := domain.Discipline{UUID: "b", Title: "Engineering"}

	_, ok := Resolve[domain.Discipline](Disciplines{Policy: DefaultPolicy()}, candidates, incoming)
	require.False(t, ok)

	p := DefaultPolicy()
	p.DisciplineTitleFallback = true
	got, ok := Resolve[domain.Discipline](Disciplines{Policy: p}, candidates, incoming)
	require.True(t, ok)
	require.Equal(t, int64(4), got.ID)
}

func TestIndexFirstCandidateWinsAndAddOverrides(t *testing.T) {
	idx := NewIndex[domain.Team](Teams{}, []domain.Team{
		{ID: 9, Slug: "vfx"},
		{ID: 3, Slug: "vfx"},
	})
	got, ok := idx.Resolve(domain.Team{Slug: "vfx"})
	require.True(t, ok)
	require.Equal(t, int64(9), got.ID)

	idx.Add(domain.Team{ID: -1, Slug: "vfx"})
	got, _ = idx.Resolve(domain.Team{Slug: "vfx"})
	require.Equal(t, int64(-1), got.ID)

	_, ok = idx.Resolve(domain.Team{})
	require.False(t, ok)
}

func TestMatchAllPrefersUUIDOverTitle(t *testing.T) {
	s := Deliverables{Policy: DefaultPolicy()}
	candidates := []domain.Deliverable{{ID: 1, UUID: "u1", Title: "Alpha"}}
	incoming := []domain.Deliverable{
		{UUID: "u7", Title: "Alpha"},
		{UUID: "u1", Title: "Alpha"},
	}

	require.Equal(t, []int{-1, 0}, MatchAll[domain.Deliverable](s, candidates, incoming))
}

func TestMatchAllClaimsEachCandidateOnce(t *testing.T) {
	s := Deliverables{Policy: DefaultPolicy()}
	candidates := []domain.Deliverable{
		{ID: 2, UUID: "old", Title: "Alpha"},
		{ID: 1, UUID: "u1", Title: "Beta"},
	}
	incoming := []domain.Deliverable{
		{UUID: "new-a", Title: "Alpha"},
		{UUID: "new-b", Title: "Alpha"},
		{UUID: "u1", Title: "Beta"},
	}

	require.Equal(t, []int{0, -1, 1}, MatchAll[domain.Deliverable](s, candidates, incoming))
}

func TestNewestFirstPrefersLiveRows(t *testing.T) {
	rows := []domain.Deliverable{
		{ID: 1, UUID: "a", Title: "Alpha", StartDate: 1, EndDate: 2, AddedDate: 100},
		{ID: 5, UUID: "b", Title: "Alpha", AddedDate: 200},
		{ID: 2, UUID: "c", Title: "Alpha", StartDate: 1, EndDate: 2, AddedDate: 200},
		{ID: 3, UUID: "d", Title: "Beta", StartDate: 1, EndDate: 2, AddedDate: 200},
	}

	got := NewestFirst(rows)
	ids := make([]int64, 0, len(got))
	for _, d := range got {
		ids = append(ids, d.ID)
	}
	require.Equal(t, []int64{3, 2, 5, 1}, ids)
	require.Equal(t, int64(1), rows[0].ID)
}

func TestRepeatedTitles(t *testing.T) {
	rows := []domain.Deliverable{
		{UUID: "a", Title: "Alpha"},
		{UUID: "b", Title: "Alpha"},
		{UUID: "b", Title: "Alpha"},
		{UUID: "c", Title: "Beta"},
		{UUID: "d", Title: "Unannounced"},
		{UUID: "e", Title: "Unannounced"},
		{Title: "Gamma"},
		{Title: "Gamma"},
	}

	require.Equal(t, map[string]int{"Alpha": 2}, RepeatedTitles(rows, DefaultPolicy()))
}

func TestAmbiguousTitlesMatchByUUIDOnly(t *testing.T) {
	s := Deliverables{Policy: DefaultPolicy(), Ambiguous: map[string]struct{}{"Alpha": {}}}
	candidates := []domain.Deliverable{
		{ID: 1, UUID: "old", Title: "Alpha"},
		{ID: 2, UUID: "u2", Title: "Beta"},
	}
	incoming := []domain.Deliverable{
		{UUID: "new", Title: "Alpha"},
		{UUID: "u3", Title: "Beta"},
	}

	require.Equal(t, []string{"uuid:new"}, s.Keys(incoming[0]))
	require.Equal(t, []int{-1, 1}, MatchAll[domain.Deliverable](s, candidates, incoming))
}
