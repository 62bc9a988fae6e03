package storage

import (
	"strings"
	"time"
)

// snapshotTimeLayout renders snapshot timestamps compactly in UTC, so the
// lexicographic order of a group's snapshot paths is chronological.
const snapshotTimeLayout = "20060102T150405Z"

// SnapshotPath is where a group's profile snapshot taken at ts is stored.
func SnapshotPath(groupID string, ts time.Time) string {
	return SnapshotPrefix(groupID) + ts.UTC().Format(snapshotTimeLayout) + ".json"
}

// SnapshotPrefix lists a group's snapshots, oldest first.
func SnapshotPrefix(groupID string) string {
	return "snapshots/" + pathSegment(groupID) + "/"
}

// TopicTombstonePath is where an evicted group-profile topic is archived.
func TopicTombstonePath(groupID, topicID string) string {
	return TopicArchivePrefix(groupID) + pathSegment(topicID) + ".json"
}

// TopicArchivePrefix lists a group's archived topics.
func TopicArchivePrefix(groupID string) string {
	return "archive/topics/" + pathSegment(groupID) + "/"
}

// pathSegment makes an identifier usable as one path element. Separators
// and dot elements would change the layout or escape a local root.
func pathSegment(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, "\\", "_")
	switch id {
	case "", ".", "..":
		return "_"
	}
	return id
}
