package retrieval

import (
	"context"
	"errors"
	"sort"

	"github.com/evermem/evermem/pkg/memory"
)

// GroupedResponse presents one query's hits per group, as parallel slices
// indexed together: GroupIDs[i] owns Memories[i], Scores[i],
// ImportanceScores[i] and OriginalData[i]. Groups are ordered by how much
// the requesting user matters in them, most important first.
type GroupedResponse struct {
	GroupIDs         []string                 `json:"group_ids"`
	Memories         [][]memory.Candidate     `json:"memories"`
	Scores           [][]float64              `json:"scores"`
	ImportanceScores []float64                `json:"importance_scores"`
	OriginalData     [][]*memory.MemCell      `json:"original_data"`
	Metadata         memory.RetrievalMetadata `json:"metadata"`
}

// RetrieveGrouped runs one retrieval across every group and splits the
// answer per group. The request's GroupID is ignored; within a group hits
// are ordered oldest first so they read as a timeline. A group's importance
// score is the user's stored activity ratio there, zero when no window
// exists.
func (e *Engine) RetrieveGrouped(ctx context.Context, req Request) (*GroupedResponse, error) {
	req = req.withDefaults()
	req.GroupID = ""

	resp, err := e.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	byGroup := make(map[string][]memory.Candidate)
	var order []string
	for _, c := range resp.Memories {
		if _, ok := byGroup[c.GroupID]; !ok {
			order = append(order, c.GroupID)
		}
		byGroup[c.GroupID] = append(byGroup[c.GroupID], c)
	}

	importance := make(map[string]float64, len(order))
	for _, groupID := range order {
		importance[groupID] = e.importanceScore(ctx, req.UserID, groupID)
	}
	sort.SliceStable(order, func(i, j int) bool {
		if importance[order[i]] != importance[order[j]] {
			return importance[order[i]] > importance[order[j]]
		}
		return order[i] < order[j]
	})

	out := &GroupedResponse{
		GroupIDs:         make([]string, 0, len(order)),
		Memories:         make([][]memory.Candidate, 0, len(order)),
		Scores:           make([][]float64, 0, len(order)),
		ImportanceScores: make([]float64, 0, len(order)),
		OriginalData:     make([][]*memory.MemCell, 0, len(order)),
		Metadata:         resp.Metadata,
	}
	for _, groupID := range order {
		memories := byGroup[groupID]
		sort.SliceStable(memories, func(i, j int) bool {
			return memories[i].Timestamp.Before(memories[j].Timestamp)
		})

		scores := make([]float64, len(memories))
		eventIDs := make([]string, len(memories))
		for i, c := range memories {
			scores[i] = c.Score
			eventIDs[i] = c.EventID
		}
		cells, err := e.repos.MemCells.GetByEventIDs(ctx, eventIDs)
		if err != nil {
			e.logger.Warn("loading original cells failed", "group_id", groupID, "error", err)
			cells = nil
		}

		out.GroupIDs = append(out.GroupIDs, groupID)
		out.Memories = append(out.Memories, memories)
		out.Scores = append(out.Scores, scores)
		out.ImportanceScores = append(out.ImportanceScores, importance[groupID])
		out.OriginalData = append(out.OriginalData, cells)
	}
	return out, nil
}

// importanceScore reads the user's activity ratio in a group. Missing
// windows and store failures score zero; grouped ordering must not fail a
// retrieval that already succeeded.
func (e *Engine) importanceScore(ctx context.Context, userID, groupID string) float64 {
	if userID == "" || groupID == "" {
		return 0
	}
	window, err := e.repos.Importance.Get(ctx, userID, groupID)
	if err != nil {
		if !errors.Is(err, memory.ErrNotFound) {
			e.logger.Warn("importance lookup failed",
				"user_id", userID, "group_id", groupID, "error", err)
		}
		return 0
	}
	return window.Score()
}
