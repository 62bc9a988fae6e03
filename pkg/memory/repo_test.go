package memory_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/evermem/evermem/pkg/kv"
	"github.com/evermem/evermem/pkg/lexical"
	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/vecstore"
)

func newTestRepos() *memory.Repos {
	return memory.NewLocalRepos(kv.NewMemory(nil))
}

func TestMemCellRepo(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos()

	ts := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	cell := &memory.MemCell{
		EventID:      "e1",
		GroupID:      "g1",
		UserIDList:   []string{"alice", "bob"},
		Participants: []string{"alice", "bob"},
		OriginalData: []memory.RawMessage{
			{SpeakerID: "alice", Content: "shall we ship v2?", Timestamp: ts, Type: memory.MsgText},
		},
		Timestamp: ts,
		Type:      memory.RawDataConversation,
		Summary:   "release planning",
	}
	if err := repos.MemCells.Put(ctx, cell); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := repos.MemCells.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Summary != "release planning" || len(got.OriginalData) != 1 {
		t.Fatalf("Get returned %+v", got)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, ts)
	}

	if _, err := repos.MemCells.Get(ctx, "nope"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := repos.MemCells.Put(ctx, &memory.MemCell{EventID: "e2", Timestamp: ts}); err != nil {
		t.Fatalf("Put e2: %v", err)
	}
	cells, err := repos.MemCells.GetByEventIDs(ctx, []string{"e1", "missing", "e2"})
	if err != nil {
		t.Fatalf("GetByEventIDs: %v", err)
	}
	if len(cells) != 2 || cells[0].EventID != "e1" || cells[1].EventID != "e2" {
		t.Fatalf("GetByEventIDs returned %d cells, want e1 then e2", len(cells))
	}

	if err := repos.MemCells.Put(ctx, &memory.MemCell{}); err == nil {
		t.Fatal("Put without event id: got nil, want error")
	}
}

func TestEpisodeRepo(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos()

	t1 := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)

	group := &memory.Episode{
		GroupID: "g1", Subject: "release planning", Episode: "The team discussed v2.",
		Timestamp: t1, MemCellEventIDs: []string{"e1"},
	}
	personal := &memory.Episode{
		UserID: "alice", GroupID: "g1", Subject: "alice plans v2", Episode: "Alice pushed for v2.",
		Timestamp: t1, MemCellEventIDs: []string{"e1"},
	}
	later := &memory.Episode{
		UserID: "alice", GroupID: "g2", Subject: "standup", Episode: "Alice reported progress.",
		Timestamp: t2, MemCellEventIDs: []string{"e2"},
	}
	for _, ep := range []*memory.Episode{group, personal, later} {
		if err := repos.Episodes.Put(ctx, ep); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	got, err := repos.Episodes.Get(ctx, "e1", "")
	if err != nil {
		t.Fatalf("Get group episode: %v", err)
	}
	if !got.IsGroup() || got.Subject != "release planning" {
		t.Fatalf("group episode = %+v", got)
	}

	got, err = repos.Episodes.Get(ctx, "e1", "alice")
	if err != nil {
		t.Fatalf("Get personal episode: %v", err)
	}
	if got.UserID != "alice" {
		t.Fatalf("personal episode user = %q", got.UserID)
	}

	eps, err := repos.Episodes.ListByUser(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(eps) != 2 || !eps[0].Timestamp.Equal(t2) {
		t.Fatalf("ListByUser returned %d episodes, want 2 newest-first", len(eps))
	}

	eps, err = repos.Episodes.ListByUser(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("ListByUser limit: %v", err)
	}
	if len(eps) != 1 || eps[0].Subject != "standup" {
		t.Fatalf("ListByUser(limit=1) = %+v", eps)
	}

	eps, err = repos.Episodes.ListByUserGroup(ctx, "alice", "g1", 0)
	if err != nil {
		t.Fatalf("ListByUserGroup: %v", err)
	}
	if len(eps) != 1 || eps[0].GroupID != "g1" {
		t.Fatalf("ListByUserGroup = %+v", eps)
	}
}

func TestForesightRepo(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos()

	t1 := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	for _, f := range []*memory.Foresight{
		{EventID: "f1", UserID: "alice", Content: "v2 ships Friday", Timestamp: t1},
		{EventID: "f2", UserID: "alice", Content: "demo on Monday", Timestamp: t2},
		{EventID: "f3", UserID: "bob", Content: "offsite next week", Timestamp: t1},
	} {
		if err := repos.Foresights.Put(ctx, f); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	got, err := repos.Foresights.Get(ctx, "f1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "v2 ships Friday" {
		t.Fatalf("Get = %+v", got)
	}

	fs, err := repos.Foresights.ListByUser(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(fs) != 2 || fs[0].EventID != "f2" || fs[1].EventID != "f1" {
		t.Fatalf("ListByUser = %+v, want f2 then f1", fs)
	}
}

func TestUserProfileRepoVersioning(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos()

	p1 := &memory.UserProfile{UserID: "alice", GroupID: "g1", UserName: "Alice"}
	if err := repos.UserProfiles.Put(ctx, p1); err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	if p1.Version != 1 {
		t.Fatalf("first Put assigned version %d, want 1", p1.Version)
	}

	p2 := &memory.UserProfile{UserID: "alice", GroupID: "g1", UserName: "Alice", MemCellCount: 7}
	if err := repos.UserProfiles.Put(ctx, p2); err != nil {
		t.Fatalf("Put v2: %v", err)
	}
	if p2.Version != 2 {
		t.Fatalf("second Put assigned version %d, want 2", p2.Version)
	}

	// A different scope versions independently.
	other := &memory.UserProfile{UserID: "alice", GroupID: "g2"}
	if err := repos.UserProfiles.Put(ctx, other); err != nil {
		t.Fatalf("Put other scope: %v", err)
	}
	if other.Version != 1 {
		t.Fatalf("other scope version = %d, want 1", other.Version)
	}

	latest, err := repos.UserProfiles.LatestByUserGroup(ctx, "alice", "g1")
	if err != nil {
		t.Fatalf("LatestByUserGroup: %v", err)
	}
	if latest.Version != 2 || latest.MemCellCount != 7 {
		t.Fatalf("latest = version %d memcells %d, want 2/7", latest.Version, latest.MemCellCount)
	}

	if _, err := repos.UserProfiles.LatestByUserGroup(ctx, "bob", "g1"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("LatestByUserGroup(missing) error = %v, want ErrNotFound", err)
	}

	versions, err := repos.UserProfiles.ListVersions(ctx, "alice", "g1", 0)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 || versions[0].Version != 2 || versions[1].Version != 1 {
		t.Fatalf("ListVersions = %d entries, want [2, 1]", len(versions))
	}

	versions, err = repos.UserProfiles.ListVersions(ctx, "alice", "g1", 1)
	if err != nil {
		t.Fatalf("ListVersions limit: %v", err)
	}
	if len(versions) != 1 || versions[0].Version != 2 {
		t.Fatalf("ListVersions(limit=1) = %+v", versions)
	}

	batch, err := repos.UserProfiles.BatchLatestByUserGroups(ctx, []memory.UserGroup{
		{UserID: "alice", GroupID: "g1"},
		{UserID: "carol", GroupID: "g1"},
		{UserID: "alice", GroupID: "g2"},
	})
	if err != nil {
		t.Fatalf("BatchLatestByUserGroups: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("batch returned %d profiles, want 2 (missing pair skipped)", len(batch))
	}

	groups, err := repos.UserProfiles.GroupsOf(ctx, "alice")
	if err != nil {
		t.Fatalf("GroupsOf: %v", err)
	}
	if len(groups) != 2 || groups[0] != "g1" || groups[1] != "g2" {
		t.Fatalf("GroupsOf = %v, want [g1 g2]", groups)
	}
	groups, err = repos.UserProfiles.GroupsOf(ctx, "bob")
	if err != nil {
		t.Fatalf("GroupsOf(missing): %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("GroupsOf(missing) = %v, want empty", groups)
	}
}

func TestGroupProfileRepoVersioning(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos()

	if _, err := repos.GroupProfiles.Latest(ctx, "g1"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("Latest(empty) error = %v, want ErrNotFound", err)
	}

	p1 := &memory.GroupProfile{GroupID: "g1", Subject: "payments team"}
	if err := repos.GroupProfiles.Put(ctx, p1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	p2 := &memory.GroupProfile{
		GroupID: "g1",
		Subject: "payments team",
		Topics:  []memory.Topic{{ID: "t1", Name: "v2 launch", Status: memory.TopicImplementing}},
		Roles: map[string][]memory.RoleAssignment{
			memory.RoleCoordinator: {{UserID: "alice", Confidence: memory.ConfidenceStrong}},
		},
	}
	if err := repos.GroupProfiles.Put(ctx, p2); err != nil {
		t.Fatalf("Put v2: %v", err)
	}

	latest, err := repos.GroupProfiles.Latest(ctx, "g1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Version != 2 || len(latest.Topics) != 1 {
		t.Fatalf("latest = version %d with %d topics, want 2/1", latest.Version, len(latest.Topics))
	}
	if got := latest.Roles[memory.RoleCoordinator]; len(got) != 1 || got[0].UserID != "alice" {
		t.Fatalf("roles round trip = %+v", latest.Roles)
	}

	versions, err := repos.GroupProfiles.ListVersions(ctx, "g1", 0)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 || versions[0].Version != 2 {
		t.Fatalf("ListVersions = %d entries, newest %d", len(versions), versions[0].Version)
	}
}

func TestImportanceRepo(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos()

	alice := &memory.GroupImportanceEvidence{UserID: "alice", GroupID: "g1"}
	alice.Append(memory.ImportanceStat{UserID: "alice", GroupID: "g1", SpeakCount: 4, ReferCount: 1, ConversationCount: 2})
	if err := repos.Importance.Put(ctx, alice); err != nil {
		t.Fatalf("Put: %v", err)
	}
	bob := &memory.GroupImportanceEvidence{UserID: "bob", GroupID: "g1"}
	bob.Append(memory.ImportanceStat{UserID: "bob", GroupID: "g1", SpeakCount: 1, ConversationCount: 2})
	if err := repos.Importance.Put(ctx, bob); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := repos.Importance.Get(ctx, "alice", "g1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IsImportant {
		t.Error("alice window should be important (speak+refer = 5)")
	}

	all, err := repos.Importance.ListByGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("ListByGroup: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListByGroup = %d windows, want 2", len(all))
	}

	if _, err := repos.Importance.Get(ctx, "carol", "g1"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestClusterRepo(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos()

	c := &memory.Cluster{ID: "c1", MemberEventIDs: []string{"e1", "e2"}}
	if err := repos.Clusters.Put(ctx, c); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := repos.Clusters.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.MemberEventIDs) != 2 {
		t.Fatalf("Get = %+v", got)
	}

	all, err := repos.Clusters.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("List = %d clusters, want 1", len(all))
	}

	if err := repos.Clusters.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repos.Clusters.Get(ctx, "c1"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("Get after Delete error = %v, want ErrNotFound", err)
	}
}

func TestLocalDenseSearch(t *testing.T) {
	ctx := context.Background()
	dense := memory.NewLocalDense(vecstore.NewMemory())

	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	docs := []struct {
		doc memory.Doc
		vec []float32
	}{
		{memory.Doc{ID: "a", EventID: "a", Kind: memory.KindEpisode, UserID: "alice", GroupID: "g1", Timestamp: base}, []float32{1, 0}},
		{memory.Doc{ID: "b", EventID: "b", Kind: memory.KindEpisode, UserID: "bob", GroupID: "g1", Timestamp: base.Add(time.Hour)}, []float32{0.8, 0.6}},
		{memory.Doc{ID: "c", EventID: "c", Kind: memory.KindEpisode, UserID: "alice", GroupID: "g2", Timestamp: base.Add(2 * time.Hour)}, []float32{0.6, 0.8}},
	}
	for _, d := range docs {
		if err := dense.Index(ctx, d.doc, d.vec); err != nil {
			t.Fatalf("Index(%s): %v", d.doc.ID, err)
		}
	}
	query := []float32{1, 0}

	hits, err := dense.Search(ctx, memory.DenseQuery{Vector: query})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("unfiltered search = %d hits, want 3", len(hits))
	}
	if hits[0].Doc.ID != "a" || hits[1].Doc.ID != "b" || hits[2].Doc.ID != "c" {
		t.Fatalf("order = %s %s %s, want a b c", hits[0].Doc.ID, hits[1].Doc.ID, hits[2].Doc.ID)
	}
	if math.Abs(hits[1].Score-0.8) > 1e-3 {
		t.Errorf("b score = %v, want ~0.8 cosine similarity", hits[1].Score)
	}

	hits, err = dense.Search(ctx, memory.DenseQuery{Vector: query, UserID: "alice"})
	if err != nil {
		t.Fatalf("Search by user: %v", err)
	}
	if len(hits) != 2 || hits[0].Doc.ID != "a" || hits[1].Doc.ID != "c" {
		t.Fatalf("user filter = %+v, want a then c", hits)
	}

	hits, err = dense.Search(ctx, memory.DenseQuery{Vector: query, Radius: 0.7})
	if err != nil {
		t.Fatalf("Search with radius: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("radius filter = %d hits, want 2", len(hits))
	}

	hits, err = dense.Search(ctx, memory.DenseQuery{Vector: query, Limit: 1})
	if err != nil {
		t.Fatalf("Search with limit: %v", err)
	}
	if len(hits) != 1 || hits[0].Doc.ID != "a" {
		t.Fatalf("limit = %+v, want a only", hits)
	}

	from := base.Add(30 * time.Minute)
	hits, err = dense.Search(ctx, memory.DenseQuery{Vector: query, StartTime: &from})
	if err != nil {
		t.Fatalf("Search with start time: %v", err)
	}
	if len(hits) != 2 || hits[0].Doc.ID != "b" {
		t.Fatalf("time filter = %+v, want b and c", hits)
	}

	if err := dense.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	hits, err = dense.Search(ctx, memory.DenseQuery{Vector: query})
	if err != nil {
		t.Fatalf("Search after delete: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("after delete = %d hits, want 2", len(hits))
	}
}

func TestLocalDenseValidityWindow(t *testing.T) {
	ctx := context.Background()
	dense := memory.NewLocalDense(vecstore.NewMemory())

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	doc := memory.Doc{
		ID: "f1", EventID: "f1", Kind: memory.KindForesight,
		Timestamp: start, StartTime: &start, EndTime: &end,
	}
	if err := dense.Index(ctx, doc, []float32{1, 0}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	inside := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	hits, err := dense.Search(ctx, memory.DenseQuery{Vector: []float32{1, 0}, CurrentTime: &inside})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("current time inside window = %d hits, want 1", len(hits))
	}

	outside := time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC)
	hits, err = dense.Search(ctx, memory.DenseQuery{Vector: []float32{1, 0}, CurrentTime: &outside})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("current time outside window = %d hits, want 0", len(hits))
	}
}

func TestLocalLexicalSearch(t *testing.T) {
	ctx := context.Background()
	lex := memory.NewLocalLexical()

	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	for _, d := range []memory.Doc{
		{ID: "d1", EventID: "d1", Kind: memory.KindEpisode, UserID: "alice", GroupID: "g1", Timestamp: base,
			Text: "Alice shipped the payment gateway"},
		{ID: "d2", EventID: "d2", Kind: memory.KindEpisode, UserID: "bob", GroupID: "g1", Timestamp: base,
			Text: "Bob reviewed the payment spec"},
		{ID: "d3", EventID: "d3", Kind: memory.KindEpisode, UserID: "alice", GroupID: "g2", Timestamp: base,
			Text: "Cache eviction bug hunting"},
	} {
		if err := lex.Index(ctx, d); err != nil {
			t.Fatalf("Index(%s): %v", d.ID, err)
		}
	}

	tokens := lexical.Tokenize("payment gateway")
	hits, err := lex.Search(ctx, memory.LexicalQuery{Tokens: tokens})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].Doc.ID != "d1" || hits[1].Doc.ID != "d2" {
		t.Fatalf("Search = %+v, want d1 then d2", hits)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("d1 score %v should beat d2 score %v", hits[0].Score, hits[1].Score)
	}

	hits, err = lex.Search(ctx, memory.LexicalQuery{Tokens: tokens, UserID: "alice"})
	if err != nil {
		t.Fatalf("Search by user: %v", err)
	}
	if len(hits) != 1 || hits[0].Doc.ID != "d1" {
		t.Fatalf("user filter = %+v, want d1 only", hits)
	}

	hits, err = lex.Search(ctx, memory.LexicalQuery{Tokens: tokens, Size: 1})
	if err != nil {
		t.Fatalf("Search with size: %v", err)
	}
	if len(hits) != 1 || hits[0].Doc.ID != "d1" {
		t.Fatalf("size = %+v, want d1", hits)
	}

	hits, err = lex.Search(ctx, memory.LexicalQuery{Tokens: tokens, From: 1})
	if err != nil {
		t.Fatalf("Search with offset: %v", err)
	}
	if len(hits) != 1 || hits[0].Doc.ID != "d2" {
		t.Fatalf("from = %+v, want d2", hits)
	}

	if err := lex.Delete(ctx, "d1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	hits, err = lex.Search(ctx, memory.LexicalQuery{Tokens: tokens})
	if err != nil {
		t.Fatalf("Search after delete: %v", err)
	}
	if len(hits) != 1 || hits[0].Doc.ID != "d2" {
		t.Fatalf("after delete = %+v, want d2 only", hits)
	}
}
