package upstream

import "github.com/141JosephAlen/ec-bot/internal/feed"

const deliverablesQuery = `query deliverables($startDate: String!, $endDate: String!, $search: String, $deliverableSlug: String, $teamSlug: String, $sortBy: SortMethod, $projectSlugs: [String], $categoryIds: [Int], $offset: Int, $limit: Int) {
  progressTracker {
    deliverables(startDate: $startDate, endDate: $endDate, search: $search, deliverableSlug: $deliverableSlug, teamSlug: $teamSlug, sortBy: $sortBy, projectSlugs: $projectSlugs, categoryIds: $categoryIds, offset: $offset, limit: $limit) {
      totalCount
      metaData {
        uuid slug title description startDate endDate updateDate numberOfDisciplines numberOfTeams totalCount
        card { id title description category release { id title } board { id title } updateDate thumbnail }
        projects { title }
      }
    }
  }
}`

const teamsQuery = `query teams($startDate: String!, $endDate: String!, $deliverableSlug: String, $sortBy: SortMethod, $offset: Int, $limit: Int) {
  progressTracker {
    teams(startDate: $startDate, endDate: $endDate, deliverableSlug: $deliverableSlug, sortBy: $sortBy, offset: $offset, limit: $limit) {
      totalCount
      metaData {
        abbreviation title description startDate endDate numberOfDeliverables slug
        timeAllocations { startDate endDate uuid partialTime }
      }
    }
  }
}`

const disciplinesQuery = `query disciplines($teamSlug: String!, $deliverableSlug: String!, $startDate: String!, $endDate: String!) {
  progressTracker {
    disciplines(teamSlug: $teamSlug, deliverableSlug: $deliverableSlug, startDate: $startDate, endDate: $endDate) {
      totalCount
      metaData {
        title color uuid numberOfMembers
        timeAllocations { startDate endDate uuid partialTime }
      }
    }
  }
}`

// window bounds every query; the tracker only returns items inside it.
const (
	windowStart = "2020-01-01"
	windowEnd   = "2030-12-31"
)

type page[T any] struct {
	TotalCount int `json:"totalCount"`
	MetaData   []T `json:"metaData"`
}

type deliverablesData struct {
	ProgressTracker struct {
		Deliverables page[feed.Deliverable] `json:"deliverables"`
	} `json:"progressTracker"`
}

type teamsData struct {
	ProgressTracker struct {
		Teams page[feed.Team] `json:"teams"`
	} `json:"progressTracker"`
}

type disciplineDoc struct {
	UUID            string `json:"uuid"`
	Title           string `json:"title"`
	NumberOfMembers int    `json:"numberOfMembers"`
	TimeAllocations []struct {
		UUID string `json:"uuid"`
	} `json:"timeAllocations"`
}

type disciplinesData struct {
	ProgressTracker struct {
		Disciplines page[disciplineDoc] `json:"disciplines"`
	} `json:"progressTracker"`
}

func deliverablesRequest(offset, limit int) request {
	return request{
		OperationName: "deliverables",
		Query:         deliverablesQuery,
		Variables: map[string]any{
			"startDate": windowStart,
			"endDate":   windowEnd,
			"sortBy":    "ALPHABETICAL",
			"offset":    offset,
			"limit":     limit,
		},
	}
}

func teamsRequest(deliverableSlug string, offset, limit int) request {
	return request{
		OperationName: "teams",
		Query:         teamsQuery,
		Variables: map[string]any{
			"startDate":       windowStart,
			"endDate":         windowEnd,
			"deliverableSlug": deliverableSlug,
			"sortBy":          "ALPHABETICAL",
			"offset":          offset,
			"limit":           limit,
		},
	}
}

func disciplinesRequest(teamSlug, deliverableSlug string) request {
	return request{
		OperationName: "disciplines",
		Query:         disciplinesQuery,
		Variables: map[string]any{
			"startDate":       windowStart,
			"endDate":         windowEnd,
			"teamSlug":        teamSlug,
			"deliverableSlug": deliverableSlug,
		},
	}
}
