package memory

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/evermem/evermem/pkg/kv"
)

// ---------------------------------------------------------------------------
// Index document builders
// ---------------------------------------------------------------------------

// EpisodeDoc builds the index document of an episode. The personal
// narratives of one cell share its event id, so the entry id carries the
// user as a suffix; the group narrative keeps the bare event id.
func EpisodeDoc(ep *Episode) Doc {
	id := ep.EventID()
	if ep.UserID != "" {
		id += "#" + ep.UserID
	}
	return Doc{
		ID:        id,
		EventID:   ep.EventID(),
		Kind:      KindEpisode,
		UserID:    ep.UserID,
		GroupID:   ep.GroupID,
		Timestamp: ep.Timestamp,
		Subject:   ep.Subject,
		Summary:   ep.Summary,
		Text:      ep.Episode,
	}
}

// FactDocs builds one index document per atomic fact of the cell's event
// log, ids suffixed by fact position. Facts carry a user scope only when
// the narrative they derive from is a single user's. A cell without an
// event log yields nil.
func FactDocs(cell *MemCell) []Doc {
	if cell.EventLog == nil {
		return nil
	}
	userID := ""
	if len(cell.UserIDList) == 1 {
		userID = cell.UserIDList[0]
	}
	docs := make([]Doc, 0, len(cell.EventLog.AtomicFacts))
	for i, fact := range cell.EventLog.AtomicFacts {
		docs = append(docs, Doc{
			ID:        fmt.Sprintf("%s#%d", cell.EventID, i),
			EventID:   cell.EventID,
			Kind:      KindEventLog,
			UserID:    userID,
			GroupID:   cell.GroupID,
			Timestamp: cell.Timestamp,
			Text:      fact,
		})
	}
	return docs
}

// ForesightDoc builds the index document of a foresight record, validity
// window included.
func ForesightDoc(f *Foresight) Doc {
	return Doc{
		ID:        f.EventID,
		EventID:   f.EventID,
		Kind:      KindForesight,
		UserID:    f.UserID,
		GroupID:   f.GroupID,
		Timestamp: f.Timestamp,
		Text:      f.Content,
		StartTime: f.StartTime,
		EndTime:   f.EndTime,
	}
}

// ---------------------------------------------------------------------------
// Reindex
// ---------------------------------------------------------------------------

// Reindex rebuilds the bundle's search indexes from the documents in store.
// The local indexes live in process memory and start empty, so a service
// reopening a persisted kv store runs this once before serving retrieval.
// It returns the number of index entries written.
//
// Records that fail to decode are skipped: the document store stays
// authoritative and a corrupt entry should not block the rest.
func Reindex(ctx context.Context, store kv.Store, repos *Repos) (int, error) {
	n := 0

	for entry, err := range store.List(ctx, kv.Key{"ep"}) {
		if err != nil {
			return n, err
		}
		var ep Episode
		if err := msgpack.Unmarshal(entry.Value, &ep); err != nil {
			continue
		}
		doc := EpisodeDoc(&ep)
		if err := repos.EpisodeIndex.Lexical.Index(ctx, doc); err != nil {
			return n, err
		}
		n++
		if len(ep.Extend.Embedding) == 0 {
			continue
		}
		if err := repos.EpisodeIndex.Dense.Index(ctx, doc, ep.Extend.Embedding); err != nil {
			return n, err
		}
	}

	for entry, err := range store.List(ctx, kv.Key{"cell"}) {
		if err != nil {
			return n, err
		}
		var cell MemCell
		if err := msgpack.Unmarshal(entry.Value, &cell); err != nil {
			continue
		}
		el := cell.EventLog
		for i, doc := range FactDocs(&cell) {
			if err := repos.EventLogIndex.Lexical.Index(ctx, doc); err != nil {
				return n, err
			}
			n++
			if i >= len(el.FactEmbeddings) {
				continue
			}
			if err := repos.EventLogIndex.Dense.Index(ctx, doc, el.FactEmbeddings[i]); err != nil {
				return n, err
			}
		}
	}

	for entry, err := range store.List(ctx, kv.Key{"fs"}) {
		if err != nil {
			return n, err
		}
		var f Foresight
		if err := msgpack.Unmarshal(entry.Value, &f); err != nil {
			continue
		}
		doc := ForesightDoc(&f)
		if err := repos.ForesightIndex.Lexical.Index(ctx, doc); err != nil {
			return n, err
		}
		n++
		if len(f.Extend.Embedding) == 0 {
			continue
		}
		if err := repos.ForesightIndex.Dense.Index(ctx, doc, f.Extend.Embedding); err != nil {
			return n, err
		}
	}

	return n, nil
}
