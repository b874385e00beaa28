package ingest

import (
	"fmt"
	"sort"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/service/identity"
)

// state is the ledger as the planner sees it: the newest row per business
// id, deliverables ordered newest first.
type state struct {
	deliverables []domain.Deliverable
	teams        []domain.Team
	allocations  []domain.TimeAllocation
	disciplines  []domain.Discipline
	cards        []domain.Card
	links        []domain.DeliverableTeam
	linkedTeams  []domain.Team
	linkedCards  []domain.Card
}

// planner accumulates the rows of one observation. New rows get negative
// provisional ids which the store replaces on insert.
type planner struct {
	at     domain.Millis
	policy identity.Policy
	st     state

	teams       *identity.Index[domain.Team]
	allocations *identity.Index[domain.TimeAllocation]
	disciplines *identity.Index[domain.Discipline]
	cards       *identity.Index[domain.Card]

	nextID   int64
	batch    domain.Batch
	changes  domain.ChangeCounters
	warnings []domain.Warning

	links            map[domain.DeliverableTeam]struct{}
	slugsByRow       map[int64][]string
	cardTIDByID      map[int64]string
	teamRow          map[string]int64
	cardRow          map[string]int64
	teamRemap        map[int64]int64
	deliverableRemap map[int64]int64
	settled          map[string]struct{}
	tombstoned       map[string]struct{}
	disciplinesSeen  map[string]struct{}
}

// entry is one screened incoming deliverable.
type entry struct {
	row   domain.Deliverable
	valid bool
}

func newPlanner(at domain.Millis, policy identity.Policy, st state) *planner {
	p := &planner{
		at:               at,
		policy:           policy,
		st:               st,
		teams:            identity.NewIndex[domain.Team](identity.Teams{}, st.teams),
		allocations:      identity.NewIndex[domain.TimeAllocation](identity.TimeAllocations{}, st.allocations),
		disciplines:      identity.NewIndex[domain.Discipline](identity.Disciplines{Policy: policy}, st.disciplines),
		cards:            identity.NewIndex[domain.Card](identity.Cards{}, st.cards),
		batch:            domain.Batch{ObservedAt: at},
		links:            make(map[domain.DeliverableTeam]struct{}, len(st.links)),
		slugsByRow:       make(map[int64][]string),
		cardTIDByID:      make(map[int64]string, len(st.linkedCards)),
		teamRow:          make(map[string]int64),
		cardRow:          make(map[string]int64),
		teamRemap:        make(map[int64]int64),
		deliverableRemap: make(map[int64]int64),
		settled:          make(map[string]struct{}),
		tombstoned:       make(map[string]struct{}),
		disciplinesSeen:  make(map[string]struct{}),
	}
	slugByTeam := make(map[int64]string, len(st.linkedTeams))
	for _, t := range st.linkedTeams {
		slugByTeam[t.ID] = t.Slug
	}
	for _, l := range st.links {
		p.links[l] = struct{}{}
		if slug, ok := slugByTeam[l.TeamID]; ok {
			p.slugsByRow[l.DeliverableID] = append(p.slugsByRow[l.DeliverableID], slug)
		}
	}
	for _, c := range st.linkedCards {
		p.cardTIDByID[c.ID] = c.TID
	}
	return p
}

func (p *planner) provisional() int64 {
	p.nextID--
	return p.nextID
}

func (p *planner) warn(kind, key, format string, args ...any) {
	p.warnings = append(p.warnings, domain.Warning{Kind: kind, Key: key, Reason: fmt.Sprintf(format, args...)})
}

func (p *planner) run(snapshot []domain.Deliverable) {
	entries := p.screen(snapshot)
	rows := make([]domain.Deliverable, len(entries))
	for i, e := range entries {
		rows[i] = e.row
	}
	repeated := identity.RepeatedTitles(rows, p.policy)
	titles := make([]string, 0, len(repeated))
	ambiguous := make(map[string]struct{}, len(repeated))
	for title := range repeated {
		titles = append(titles, title)
		ambiguous[title] = struct{}{}
	}
	sort.Strings(titles)
	for _, title := range titles {
		p.warn("deliverable", title, "title shared by %d deliverables; matched by uuid only", repeated[title])
	}
	strategy := identity.Deliverables{Policy: p.policy, Ambiguous: ambiguous}
	matches := identity.MatchAll[domain.Deliverable](strategy, p.st.deliverables, rows)

	p.removals(entries, matches)
	for i, e := range entries {
		if !e.valid {
			continue
		}
		p.deliverable(e.row, matches[i])
	}
	p.reconcile()
	p.removeDisciplines()
}

// screen drops entries that cannot be identified and flags the ones that
// cannot be written. Flagged entries still count as present so their ledger
// history is not tombstoned.
func (p *planner) screen(snapshot []domain.Deliverable) []entry {
	entries := make([]entry, 0, len(snapshot))
	seen := make(map[string]struct{}, len(snapshot))
	for _, d := range snapshot {
		key := d.UUID
		if key == "" {
			key = d.Title
		}
		if key == "" {
			p.warn("deliverable", d.Slug, "missing uuid and title")
			continue
		}
		if d.UUID != "" {
			if _, dup := seen[d.UUID]; dup {
				p.warn("deliverable", key, "duplicate uuid in snapshot")
				continue
			}
			seen[d.UUID] = struct{}{}
		}

		e := entry{row: d, valid: true}
		switch {
		case d.UUID == "":
			p.warn("deliverable", key, "missing uuid")
			e.valid = false
		case d.Title == "":
			p.warn("deliverable", key, "missing title")
			e.valid = false
		case d.StartDate == 0 || d.EndDate == 0:
			p.warn("deliverable", key, "missing start or end date")
			e.valid = false
		}
		for _, t := range d.Teams {
			for _, ta := range t.TimeAllocations {
				if ta.Discipline != nil && ta.Discipline.UUID != "" {
					p.disciplinesSeen[ta.Discipline.UUID] = struct{}{}
				}
			}
		}
		entries = append(entries, e)
	}
	return entries
}

// removals tombstones every active entity whose business id is absent from
// the snapshot.
func (p *planner) removals(entries []entry, matches []int) {
	claimed := make(map[int]struct{}, len(matches))
	for _, ci := range matches {
		if ci >= 0 {
			claimed[ci] = struct{}{}
		}
	}
	for ci, d := range p.st.deliverables {
		if _, ok := claimed[ci]; ok || d.IsTombstone() {
			continue
		}
		row := d.Tombstone(p.at)
		row.ID = p.provisional()
		p.batch.Deliverables = append(p.batch.Deliverables, row)
		p.changes.Removed++
	}

	slugs := make(map[string]struct{})
	allocations := make(map[string]struct{})
	tids := make(map[string]struct{})
	for i, e := range entries {
		switch {
		case rejectedCard(e.row.Card):
			if ci := matches[i]; ci >= 0 && !p.st.deliverables[ci].IsTombstone() {
				if tid := p.cardTIDByID[p.st.deliverables[ci].CardID]; tid != "" {
					tids[tid] = struct{}{}
				}
			}
		case e.row.Card != nil:
			tids[e.row.Card.TID] = struct{}{}
		}
		for _, t := range e.row.Teams {
			slugs[t.Slug] = struct{}{}
			for _, ta := range t.TimeAllocations {
				allocations[ta.UUID] = struct{}{}
			}
		}
	}

	for _, t := range p.st.teams {
		if _, ok := slugs[t.Slug]; ok || t.IsTombstone() {
			continue
		}
		row := t.Tombstone(p.at)
		row.ID = p.provisional()
		p.batch.Teams = append(p.batch.Teams, row)
		p.teams.Add(row)
	}
	for _, ta := range p.st.allocations {
		if _, ok := allocations[ta.UUID]; ok || ta.IsTombstone() {
			continue
		}
		row := ta.Tombstone(p.at)
		row.ID = p.provisional()
		p.batch.TimeAllocations = append(p.batch.TimeAllocations, row)
		p.tombstoned[ta.UUID] = struct{}{}
	}
	for _, c := range p.st.cards {
		if _, ok := tids[c.TID]; ok || c.IsTombstone() {
			continue
		}
		row := c.Tombstone(p.at)
		row.ID = p.provisional()
		p.batch.Cards = append(p.batch.Cards, row)
	}
}

// deliverable writes one incoming deliverable and everything hanging off it.
func (p *planner) deliverable(in domain.Deliverable, ci int) {
	var match domain.Deliverable
	found := ci >= 0
	if found {
		match = p.st.deliverables[ci]
	}

	type teamRef struct {
		id   int64
		team domain.Team
	}
	refs := make([]teamRef, 0, len(in.Teams))
	slugs := make([]string, 0, len(in.Teams))
	linked := make(map[string]struct{}, len(in.Teams))
	for _, t := range in.Teams {
		if _, dup := linked[t.Slug]; dup {
			continue
		}
		id, ok := p.team(t)
		if !ok {
			continue
		}
		linked[t.Slug] = struct{}{}
		refs = append(refs, teamRef{id: id, team: t})
		slugs = append(slugs, t.Slug)
	}

	rowID := match.ID
	active := found && !match.IsTombstone()
	cardID, tid := p.card(in.Card)
	if rejectedCard(in.Card) && active {
		cardID, tid = match.CardID, p.cardTIDByID[match.CardID]
	}
	if !active || deliverableChanged(match, in, p.cardTIDByID[match.CardID], tid, p.slugsByRow[match.ID], slugs) {
		if active && match.UUID != in.UUID {
			// The old uuid is gone; close it so it cannot be matched again.
			gone := match.Tombstone(p.at)
			gone.ID = p.provisional()
			p.batch.Deliverables = append(p.batch.Deliverables, gone)
		}
		row := in
		row.ID = p.provisional()
		row.CardID = cardID
		row.AddedDate = p.at
		row.Card = nil
		row.Teams = nil
		p.batch.Deliverables = append(p.batch.Deliverables, row)
		switch {
		case !found:
			p.changes.Added++
		case match.IsTombstone():
			p.changes.Added++
			p.changes.Readded++
		default:
			p.changes.Updated++
			p.deliverableRemap[match.ID] = row.ID
		}
		rowID = row.ID
	}

	for _, ref := range refs {
		p.link(domain.DeliverableTeam{DeliverableID: rowID, TeamID: ref.id})
		for _, ta := range ref.team.TimeAllocations {
			p.allocation(ta, ref.id, rowID)
		}
	}
}

func (p *planner) link(l domain.DeliverableTeam) {
	if _, ok := p.links[l]; ok {
		return
	}
	p.links[l] = struct{}{}
	p.batch.Links = append(p.batch.Links, l)
}

// team returns the current row id for t, appending a new row when t is new,
// returning or changed. The first occurrence of a slug in a snapshot wins.
func (p *planner) team(t domain.Team) (int64, bool) {
	if t.Slug == "" {
		p.warn("team", t.Title, "missing slug")
		return 0, false
	}
	if id, ok := p.teamRow[t.Slug]; ok {
		return id, id != 0
	}
	if t.StartDate == 0 || t.EndDate == 0 {
		p.warn("team", t.Slug, "missing start or end date")
		p.teamRow[t.Slug] = 0
		return 0, false
	}

	match, found := p.teams.Resolve(t)
	if found && !match.IsTombstone() && !teamChanged(match, t) {
		p.teamRow[t.Slug] = match.ID
		return match.ID, true
	}
	row := t
	row.ID = p.provisional()
	row.AddedDate = p.at
	row.TimeAllocations = nil
	p.batch.Teams = append(p.batch.Teams, row)
	p.teams.Add(row)
	if found && !match.IsTombstone() {
		p.teamRemap[match.ID] = row.ID
	}
	p.teamRow[t.Slug] = row.ID
	return row.ID, true
}

// rejectedCard reports whether the feed sent a card that could not be
// identified. The deliverable keeps the card it was linked to.
func rejectedCard(c *domain.Card) bool {
	return c != nil && c.TID == ""
}

// card returns the row id and tid for c. Deliverables sharing a card share
// the row written for the first of them.
func (p *planner) card(c *domain.Card) (int64, string) {
	if c == nil || c.TID == "" {
		return 0, ""
	}
	if id, ok := p.cardRow[c.TID]; ok {
		return id, c.TID
	}
	match, found := p.cards.Resolve(*c)
	if found && !match.IsTombstone() && !cardChanged(match, *c) {
		p.cardRow[c.TID] = match.ID
		return match.ID, c.TID
	}
	row := *c
	row.ID = p.provisional()
	row.AddedDate = p.at
	p.batch.Cards = append(p.batch.Cards, row)
	p.cards.Add(row)
	p.cardRow[c.TID] = row.ID
	return row.ID, c.TID
}

func (p *planner) allocation(ta domain.TimeAllocation, teamID, deliverableID int64) {
	if ta.UUID == "" {
		p.warn("timeAllocation", "", "missing uuid")
		return
	}
	if _, dup := p.settled[ta.UUID]; dup {
		p.warn("timeAllocation", ta.UUID, "duplicate uuid in snapshot")
		return
	}
	p.settled[ta.UUID] = struct{}{}
	if ta.StartDate == 0 || ta.EndDate == 0 {
		p.warn("timeAllocation", ta.UUID, "missing start or end date")
		return
	}

	disciplineID := p.discipline(ta.Discipline)
	match, found := p.allocations.Resolve(ta)
	if found && !match.IsTombstone() &&
		match.StartDate == ta.StartDate &&
		match.EndDate == ta.EndDate &&
		match.PartialTime == ta.PartialTime &&
		match.TeamID == teamID &&
		match.DeliverableID == deliverableID &&
		match.DisciplineID == disciplineID {
		return
	}
	row := domain.TimeAllocation{
		ID:            p.provisional(),
		UUID:          ta.UUID,
		StartDate:     ta.StartDate,
		EndDate:       ta.EndDate,
		PartialTime:   ta.PartialTime,
		TeamID:        teamID,
		DeliverableID: deliverableID,
		DisciplineID:  disciplineID,
		AddedDate:     p.at,
	}
	p.batch.TimeAllocations = append(p.batch.TimeAllocations, row)
	p.allocations.Add(row)
}

func (p *planner) discipline(d *domain.Discipline) int64 {
	if d == nil {
		return 0
	}
	if d.UUID == "" {
		p.warn("discipline", d.Title, "missing uuid")
		return 0
	}
	match, found := p.disciplines.Resolve(*d)
	if found && !match.IsTombstone() && match.Title == d.Title && match.NumberOfMembers == d.NumberOfMembers {
		p.disciplinesSeen[match.UUID] = struct{}{}
		return match.ID
	}
	row := *d
	row.ID = p.provisional()
	row.AddedDate = p.at
	row.Tombstoned = false
	p.batch.Disciplines = append(p.batch.Disciplines, row)
	p.disciplines.Add(row)
	return row.ID
}

// reconcile re-points rows that reference a team or deliverable row that was
// re-versioned in this pass but were not rewritten from the snapshot.
func (p *planner) reconcile() {
	for _, ta := range p.st.allocations {
		if ta.IsTombstone() {
			continue
		}
		if _, ok := p.settled[ta.UUID]; ok {
			continue
		}
		if _, ok := p.tombstoned[ta.UUID]; ok {
			continue
		}
		teamID, teamMoved := p.teamRemap[ta.TeamID]
		deliverableID, deliverableMoved := p.deliverableRemap[ta.DeliverableID]
		if !teamMoved && !deliverableMoved {
			continue
		}
		row := ta
		row.ID = p.provisional()
		row.AddedDate = p.at
		if teamMoved {
			row.TeamID = teamID
		}
		if deliverableMoved {
			row.DeliverableID = deliverableID
		}
		p.batch.TimeAllocations = append(p.batch.TimeAllocations, row)
	}

	for _, l := range p.st.links {
		if _, moved := p.deliverableRemap[l.DeliverableID]; moved {
			continue
		}
		if teamID, ok := p.teamRemap[l.TeamID]; ok {
			p.link(domain.DeliverableTeam{DeliverableID: l.DeliverableID, TeamID: teamID})
		}
	}
}

// removeDisciplines tombstones disciplines no incoming allocation refers to.
func (p *planner) removeDisciplines() {
	for _, d := range p.st.disciplines {
		if _, ok := p.disciplinesSeen[d.UUID]; ok || d.IsTombstone() {
			continue
		}
		row := d.Tombstone(p.at)
		row.ID = p.provisional()
		p.batch.Disciplines = append(p.batch.Disciplines, row)
	}
}

func teamChanged(old, in domain.Team) bool {
	return old.Abbreviation != in.Abbreviation ||
		old.Title != in.Title ||
		old.Description != in.Description ||
		old.StartDate != in.StartDate ||
		old.EndDate != in.EndDate ||
		old.NumberOfDeliverables != in.NumberOfDeliverables
}

func cardChanged(old, in domain.Card) bool {
	return old.Title != in.Title ||
		old.Description != in.Description ||
		old.Category != in.Category ||
		old.ReleaseID != in.ReleaseID ||
		old.ReleaseTitle != in.ReleaseTitle ||
		old.UpdateDate != in.UpdateDate ||
		old.Thumbnail != in.Thumbnail
}

// deliverableChanged compares the deliverable's own fields, its card
// identity and the set of teams it is linked to. Child contents are
// versioned on their own rows.
func deliverableChanged(old, in domain.Deliverable, oldTID, newTID string, oldSlugs, newSlugs []string) bool {
	return old.UUID != in.UUID ||
		old.Slug != in.Slug ||
		old.Title != in.Title ||
		old.Description != in.Description ||
		old.StartDate != in.StartDate ||
		old.EndDate != in.EndDate ||
		old.UpdateDate != in.UpdateDate ||
		old.NumberOfDisciplines != in.NumberOfDisciplines ||
		old.NumberOfTeams != in.NumberOfTeams ||
		old.TotalCount != in.TotalCount ||
		!old.Projects.Equal(in.Projects) ||
		oldTID != newTID ||
		!sameSet(oldSlugs, newSlugs)
}

func sameSet(a, b []string) bool {
	a = uniqueSorted(a)
	b = uniqueSorted(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func uniqueSorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 0
	for i, s := range out {
		if i > 0 && s == out[n-1] {
			continue
		}
		out[n] = s
		n++
	}
	return out[:n]
}
