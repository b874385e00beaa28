// Package ledgersql holds the table layout shared by the SQL ledger stores:
// column lists, row scanners and insert arguments. Nullable columns carry
// the tombstone sentinels.
package ledgersql

import (
	"fmt"
	"strings"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

// Table names.
const (
	DeliverableTable    = "deliverable_diff"
	TeamTable           = "team_diff"
	DisciplineTable     = "discipline_diff"
	TimeAllocationTable = `"timeAllocation_diff"`
	CardTable           = "card_diff"
	LinkTable           = "deliverable_teams"
)

// Column lists in scan order. The first column is always the row id.
var (
	DeliverableColumns = []string{"id", "uuid", "slug", "title", "description", "start_date", "end_date", "update_date",
		"number_of_disciplines", "number_of_teams", "total_count", "card_id", "project_ids", "added_date"}
	TeamColumns = []string{"id", "slug", "abbreviation", "title", "description", "start_date", "end_date",
		"number_of_deliverables", "added_date"}
	DisciplineColumns     = []string{"id", "uuid", "title", "number_of_members", "added_date"}
	TimeAllocationColumns = []string{"id", "uuid", "start_date", "end_date", "partial_time", "team_id", "deliverable_id",
		"discipline_id", "added_date"}
	CardColumns = []string{"id", "tid", "title", "description", "category", "release_id", "release_title", "update_date",
		"thumbnail", "added_date"}
)

// ObservationTimes lists every distinct observation instant across the
// versioned tables, newest first.
const ObservationTimes = `SELECT added_date FROM deliverable_diff
	UNION SELECT added_date FROM team_diff
	UNION SELECT added_date FROM "timeAllocation_diff"
	UNION SELECT added_date FROM discipline_diff
	UNION SELECT added_date FROM card_diff
	ORDER BY 1 DESC`

// Select renders a column list.
func Select(columns []string) string {
	return strings.Join(columns, ", ")
}

// Insert renders an INSERT ... RETURNING id statement without the id column.
// placeholder renders the n-th (1-based) bind parameter.
func Insert(table string, columns []string, placeholder func(n int) string) string {
	cols := columns[1:]
	params := make([]string, len(cols))
	for i := range cols {
		params[i] = placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id", table, strings.Join(cols, ", "), strings.Join(params, ", "))
}

// Scanner is satisfied by pgx.Row(s) and *sql.Row(s).
type Scanner interface {
	Scan(dest ...any) error
}

// ScanDeliverable reads one deliverable row.
func ScanDeliverable(s Scanner) (domain.Deliverable, error) {
	var (
		d                       domain.Deliverable
		start, end, update      *int64
		disciplines, teams, tot *int64
		cardID                  *int64
		projects                string
	)
	if err := s.Scan(&d.ID, &d.UUID, &d.Slug, &d.Title, &d.Description, &start, &end, &update,
		&disciplines, &teams, &tot, &cardID, &projects, &d.AddedDate); err != nil {
		return domain.Deliverable{}, err
	}
	d.StartDate = millis(start)
	d.EndDate = millis(end)
	d.UpdateDate = millis(update)
	d.NumberOfDisciplines = int(value(disciplines))
	d.NumberOfTeams = int(value(teams))
	d.TotalCount = int(value(tot))
	d.CardID = value(cardID)
	d.Projects = domain.ParseProjects(projects)
	return d, nil
}

// DeliverableArgs returns insert arguments in column order, id excluded.
func DeliverableArgs(d domain.Deliverable) []any {
	if d.IsTombstone() {
		return []any{d.UUID, d.Slug, d.Title, d.Description, nil, nil, nil, nil, nil, intToNil(d.TotalCount),
			int64ToNil(d.CardID), d.Projects.String(), int64(d.AddedDate)}
	}
	return []any{d.UUID, d.Slug, d.Title, d.Description, millisToNil(d.StartDate), millisToNil(d.EndDate),
		millisToNil(d.UpdateDate), d.NumberOfDisciplines, d.NumberOfTeams, d.TotalCount, int64ToNil(d.CardID),
		d.Projects.String(), int64(d.AddedDate)}
}

// ScanTeam reads one team row.
func ScanTeam(s Scanner) (domain.Team, error) {
	var (
		t          domain.Team
		start, end *int64
		count      *int64
	)
	if err := s.Scan(&t.ID, &t.Slug, &t.Abbreviation, &t.Title, &t.Description, &start, &end, &count, &t.AddedDate); err != nil {
		return domain.Team{}, err
	}
	t.StartDate = millis(start)
	t.EndDate = millis(end)
	t.NumberOfDeliverables = int(value(count))
	return t, nil
}

// TeamArgs returns insert arguments in column order, id excluded.
func TeamArgs(t domain.Team) []any {
	return []any{t.Slug, t.Abbreviation, t.Title, t.Description, millisToNil(t.StartDate), millisToNil(t.EndDate),
		t.NumberOfDeliverables, int64(t.AddedDate)}
}

// ScanDiscipline reads one discipline row.
func ScanDiscipline(s Scanner) (domain.Discipline, error) {
	var (
		d       domain.Discipline
		members *int64
	)
	if err := s.Scan(&d.ID, &d.UUID, &d.Title, &members, &d.AddedDate); err != nil {
		return domain.Discipline{}, err
	}
	if members == nil {
		d.Tombstoned = true
	} else {
		d.NumberOfMembers = int(*members)
	}
	return d, nil
}

// DisciplineArgs returns insert arguments in column order, id excluded.
func DisciplineArgs(d domain.Discipline) []any {
	var members any = d.NumberOfMembers
	if d.Tombstoned {
		members = nil
	}
	return []any{d.UUID, d.Title, members, int64(d.AddedDate)}
}

// ScanTimeAllocation reads one time allocation row.
func ScanTimeAllocation(s Scanner) (domain.TimeAllocation, error) {
	var (
		ta                                  domain.TimeAllocation
		start, end, partial                 *int64
		teamID, deliverableID, disciplineID *int64
	)
	if err := s.Scan(&ta.ID, &ta.UUID, &start, &end, &partial, &teamID, &deliverableID, &disciplineID, &ta.AddedDate); err != nil {
		return domain.TimeAllocation{}, err
	}
	ta.StartDate = millis(start)
	ta.EndDate = millis(end)
	ta.PartialTime = value(partial) == 1
	ta.TeamID = value(teamID)
	ta.DeliverableID = value(deliverableID)
	ta.DisciplineID = value(disciplineID)
	return ta, nil
}

// TimeAllocationArgs returns insert arguments in column order, id excluded.
// partial_time is stored as 0/1 and is NULL on tombstones.
func TimeAllocationArgs(ta domain.TimeAllocation) []any {
	var partial any
	if !ta.IsTombstone() {
		partial = 0
		if ta.PartialTime {
			partial = 1
		}
	}
	return []any{ta.UUID, millisToNil(ta.StartDate), millisToNil(ta.EndDate), partial, int64ToNil(ta.TeamID),
		int64ToNil(ta.DeliverableID), int64ToNil(ta.DisciplineID), int64(ta.AddedDate)}
}

// ScanCard reads one card row.
func ScanCard(s Scanner) (domain.Card, error) {
	var (
		c                       domain.Card
		category                int64
		releaseID, releaseTitle *string
		update                  *int64
	)
	if err := s.Scan(&c.ID, &c.TID, &c.Title, &c.Description, &category, &releaseID, &releaseTitle, &update,
		&c.Thumbnail, &c.AddedDate); err != nil {
		return domain.Card{}, err
	}
	c.Category = domain.Category(category)
	if releaseID != nil {
		c.ReleaseID = *releaseID
	}
	if releaseTitle != nil {
		c.ReleaseTitle = *releaseTitle
	}
	c.UpdateDate = millis(update)
	return c, nil
}

// CardArgs returns insert arguments in column order, id excluded.
func CardArgs(c domain.Card) []any {
	return []any{c.TID, c.Title, c.Description, int(c.Category), nilIfEmpty(c.ReleaseID), nilIfEmpty(c.ReleaseTitle),
		millisToNil(c.UpdateDate), c.Thumbnail, int64(c.AddedDate)}
}

// ScanLink reads one association row.
func ScanLink(s Scanner) (domain.DeliverableTeam, error) {
	var l domain.DeliverableTeam
	err := s.Scan(&l.DeliverableID, &l.TeamID)
	return l, err
}

func millis(v *int64) domain.Millis {
	return domain.Millis(value(v))
}

func value(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func millisToNil(m domain.Millis) any {
	if m == 0 {
		return nil
	}
	return int64(m)
}

func int64ToNil(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func intToNil(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
