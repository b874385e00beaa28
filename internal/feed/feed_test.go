package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

func day(y int, m time.Month, d int) domain.Millis {
	return domain.MillisOf(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func TestDateAcceptsStringsAndNumbers(t *testing.T) {
	var doc struct {
		ISO     Date `json:"iso"`
		Day     Date `json:"day"`
		Millis  Date `json:"millis"`
		Null    Date `json:"null"`
		Garbage Date `json:"garbage"`
	}
	raw := `{"iso":"2021-04-15T00:00:00.000Z","day":"2021-04-15","millis":1618444800000,"null":null,"garbage":"soon"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	want := day(2021, time.April, 15)
	require.Equal(t, want, doc.ISO.Millis)
	require.Equal(t, want, doc.Day.Millis)
	require.Equal(t, want, doc.Millis.Millis)
	require.Zero(t, doc.Null.Millis)

	_, err := doc.Garbage.Value()
	require.True(t, errors.Is(err, ErrInvalidDate))
}

func TestParseDateLayouts(t *testing.T) {
	want := day(2022, time.January, 2)
	for _, raw := range []string{"20220102", "2022-01-02", "2022-01-02T00:00:00Z", "1641081600000"} {
		got, err := ParseDate(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	_, err := ParseDate("yesterday")
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestNormalizeMapsFeedFields(t *testing.T) {
	raw := `[{
		"uuid": "d1", "slug": "alpha", "title": "Bombs &amp; MOAB", "description": "&lt;b&gt;",
		"startDate": "2021-01-01", "endDate": "2021-03-01", "updateDate": "not a date",
		"projects": [{"title": "Star Citizen"}, {"title": "Theaters of War"}],
		"card": {"id": 42, "title": "Card", "category": 12, "release": {"id": 7, "title": "3.14"}, "updateDate": "2021-01-05"},
		"teams": [{"slug": "vfx", "startDate": 1609459200000, "endDate": "2021-02-01",
			"timeAllocations": [{"uuid": "ta1", "startDate": "2021-01-01", "endDate": "2021-01-15", "partialTime": true,
				"discipline": {"uuid": "di1", "title": "Engineering", "numberOfMembers": 3}}]}]
	}]`
	docs, err := Decode(strings.NewReader(raw))
	require.NoError(t, err)

	got, warnings := Normalize(docs)
	require.Len(t, got, 1)
	d := got[0]
	require.Equal(t, "Bombs & MOAB", d.Title)
	require.Equal(t, "<b>", d.Description)
	require.Zero(t, d.UpdateDate)
	require.Equal(t, domain.Projects{domain.ProjectStarCitizen}, d.Projects)
	require.Equal(t, "42", d.Card.TID)
	require.Equal(t, "7", d.Card.ReleaseID)
	require.Equal(t, domain.CategoryNone, d.Card.Category)
	require.Equal(t, day(2021, time.January, 1), d.Teams[0].StartDate)
	ta := d.Teams[0].TimeAllocations[0]
	require.True(t, ta.PartialTime)
	require.Equal(t, 3, ta.Discipline.NumberOfMembers)

	kinds := make([]string, 0, len(warnings))
	for _, w := range warnings {
		kinds = append(kinds, w.Kind)
	}
	require.ElementsMatch(t, []string{"deliverable", "deliverable", "card"}, kinds)
}

func TestNormalizeKeepsCardWithoutID(t *testing.T) {
	docs, err := Decode(strings.NewReader(`[{"uuid": "d1", "title": "Alpha", "card": {"title": "Half &amp; half"}}, {"uuid": "d2", "title": "Beta"}]`))
	require.NoError(t, err)

	got, warnings := Normalize(docs)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].Card)
	require.Empty(t, got[0].Card.TID)
	require.Equal(t, "Half & half", got[0].Card.Title)
	require.Nil(t, got[1].Card)
	require.Equal(t, []domain.Warning{{Kind: "card", Key: "Half & half", Reason: "missing id"}}, warnings)
}

func TestEncodedSnapshotReplaysToSameValues(t *testing.T) {
	in := []domain.Deliverable{{
		UUID: "d1", Slug: "alpha", Title: `Tom's "Alpha" & co`, Description: "desc",
		StartDate: day(2021, 1, 1), EndDate: day(2021, 6, 1), UpdateDate: day(2020, 12, 1),
		NumberOfTeams: 1, TotalCount: 1, Projects: domain.Projects{domain.ProjectSquadron42},
		Card: &domain.Card{TID: "c1", Title: "Card", Category: domain.CategoryAI, ReleaseID: "r", ReleaseTitle: "3.15",
			UpdateDate: day(2021, 1, 2)},
		Teams: []domain.Team{{Slug: "vfx", Title: "VFX", StartDate: day(2021, 1, 1), EndDate: day(2021, 2, 1),
			TimeAllocations: []domain.TimeAllocation{{UUID: "ta1", StartDate: day(2021, 1, 1), EndDate: day(2021, 1, 14),
				Discipline: &domain.Discipline{UUID: "di1", Title: "Engineering", NumberOfMembers: 2}}}}},
	}}

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(Encode(in)))
	require.Contains(t, buf.String(), `"startDate":"2021-01-01T00:00:00.000Z"`)

	docs, err := Decode(&buf)
	require.NoError(t, err)
	out, warnings := Normalize(docs)
	require.Empty(t, warnings)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("replayed snapshot differs (-want +got):\n%s", diff)
	}
}

func TestReadDirOrdersByFileDate(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"2021-05-01.json", "20210401.json", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("[]"), 0o644))
	}
	files, err := ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, day(2021, time.April, 1), files[0].ObservedAt)
	require.Equal(t, day(2021, time.May, 1), files[1].ObservedAt)
	require.Equal(t, "2021-05-01.json", FileName(files[1].ObservedAt))
}
