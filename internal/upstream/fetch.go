package upstream

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/141JosephAlen/ec-bot/internal/feed"
)

var tracer = otel.Tracer("ec-bot.upstream")

// Fetch downloads the complete roadmap: every deliverable page, the teams of
// each deliverable and the disciplines behind each team's time allocations.
// Any failed request fails the whole fetch with ErrIncompleteBatch.
func (c *Client) Fetch(ctx context.Context) ([]feed.Deliverable, error) {
	ctx, span := tracer.Start(ctx, "upstream.Fetch", trace.WithAttributes(
		attribute.String("upstream.url", c.url),
		attribute.Int("upstream.page_size", c.pageSize),
	))
	defer span.End()

	started := time.Now()
	deliverables, err := c.fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("roadmap retrieval failed", "error", err, "duration", time.Since(started))
		return nil, fmt.Errorf("%w: %v", ErrIncompleteBatch, err)
	}
	span.SetAttributes(attribute.Int("upstream.deliverables", len(deliverables)))
	c.logger.Info("roadmap retrieved", "deliverables", len(deliverables), "duration", time.Since(started))
	return deliverables, nil
}

func (c *Client) fetch(ctx context.Context) ([]feed.Deliverable, error) {
	var probe deliverablesData
	if err := c.do(ctx, deliverablesRequest(0, 1), &probe); err != nil {
		return nil, fmt.Errorf("probe deliverables: %w", err)
	}
	total := probe.ProgressTracker.Deliverables.TotalCount
	if total == 0 {
		return []feed.Deliverable{}, nil
	}

	deliverables, err := c.deliverables(ctx, total)
	if err != nil {
		return nil, err
	}
	if err := c.teams(ctx, deliverables); err != nil {
		return nil, err
	}
	if err := c.disciplines(ctx, deliverables); err != nil {
		return nil, err
	}
	return deliverables, nil
}

func (c *Client) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	return g, gctx
}

// deliverables fetches all pages in parallel, keeping page order.
func (c *Client) deliverables(ctx context.Context, total int) ([]feed.Deliverable, error) {
	pages := make([][]feed.Deliverable, (total+c.pageSize-1)/c.pageSize)
	g, gctx := c.group(ctx)
	for i := range pages {
		offset := i * c.pageSize
		g.Go(func() error {
			var data deliverablesData
			if err := c.do(gctx, deliverablesRequest(offset, c.pageSize), &data); err != nil {
				return fmt.Errorf("deliverables at offset %d: %w", offset, err)
			}
			pages[i] = data.ProgressTracker.Deliverables.MetaData
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]feed.Deliverable, 0, total)
	for _, p := range pages {
		out = append(out, p...)
	}
	if len(out) != total {
		c.logger.Warn("deliverable count changed during retrieval", "expected", total, "received", len(out))
	}
	return out, nil
}

// teams attaches the teams working on each deliverable.
func (c *Client) teams(ctx context.Context, deliverables []feed.Deliverable) error {
	g, gctx := c.group(ctx)
	for i := range deliverables {
		slug := deliverables[i].Slug
		g.Go(func() error {
			var teams []feed.Team
			for offset := 0; ; offset += c.pageSize {
				var data teamsData
				if err := c.do(gctx, teamsRequest(slug, offset, c.pageSize), &data); err != nil {
					return fmt.Errorf("teams of %s: %w", slug, err)
				}
				page := data.ProgressTracker.Teams
				teams = append(teams, page.MetaData...)
				if len(page.MetaData) == 0 || len(teams) >= page.TotalCount {
					break
				}
			}
			deliverables[i].Teams = teams
			return nil
		})
	}
	return g.Wait()
}

// disciplines fetches the disciplines of every (team, deliverable) pair and
// attaches each to the time allocations it is listed under.
func (c *Client) disciplines(ctx context.Context, deliverables []feed.Deliverable) error {
	g, gctx := c.group(ctx)
	for i := range deliverables {
		for j := range deliverables[i].Teams {
			team := &deliverables[i].Teams[j]
			deliverableSlug := deliverables[i].Slug
			g.Go(func() error {
				var data disciplinesData
				if err := c.do(gctx, disciplinesRequest(team.Slug, deliverableSlug), &data); err != nil {
					return fmt.Errorf("disciplines of %s/%s: %w", team.Slug, deliverableSlug, err)
				}
				attach(team, data.ProgressTracker.Disciplines.MetaData)
				return nil
			})
		}
	}
	return g.Wait()
}

func attach(team *feed.Team, disciplines []disciplineDoc) {
	byAllocation := make(map[string]*feed.Discipline)
	for _, d := range disciplines {
		discipline := &feed.Discipline{UUID: d.UUID, Title: d.Title, NumberOfMembers: d.NumberOfMembers}
		for _, ta := range d.TimeAllocations {
			byAllocation[ta.UUID] = discipline
		}
	}
	for k := range team.TimeAllocations {
		if d, ok := byAllocation[team.TimeAllocations[k].UUID]; ok {
			team.TimeAllocations[k].Discipline = d
		}
	}
}
