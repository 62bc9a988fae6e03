package memory

import (
	"fmt"

	"github.com/evermem/evermem/pkg/kv"
)

// KV key layout of the local repositories:
//
//	cell:{event_id}                           MemCell
//	ep:{event_id}:{user_id|-}                 Episode ("-" = group episode)
//	fs:{event_id}                             Foresight
//	up:{user_id}:{group_id|-}:{version:020d}  UserProfile
//	gp:{group_id}:{version:020d}              GroupProfile
//	imp:{group_id}:{user_id}                  GroupImportanceEvidence
//	cluster:{cluster_id}                      Cluster
//
// Version segments are zero-padded so lexicographic scan order matches
// numeric order; a prefix scan yields versions ascending.

func memCellKey(eventID string) kv.Key { return kv.Key{"cell", eventID} }

func episodeKey(eventID, userID string) kv.Key {
	return kv.Key{"ep", eventID, orDash(userID)}
}

func foresightKey(eventID string) kv.Key { return kv.Key{"fs", eventID} }

func userProfileKey(userID, groupID string, version int64) kv.Key {
	return kv.Key{"up", userID, orDash(groupID), fmt.Sprintf("%020d", version)}
}

func userProfilePrefix(userID, groupID string) kv.Key {
	return kv.Key{"up", userID, orDash(groupID)}
}

func groupProfileKey(groupID string, version int64) kv.Key {
	return kv.Key{"gp", groupID, fmt.Sprintf("%020d", version)}
}

func groupProfilePrefix(groupID string) kv.Key { return kv.Key{"gp", groupID} }

func importanceKey(userID, groupID string) kv.Key {
	return kv.Key{"imp", groupID, userID}
}

func importancePrefix(groupID string) kv.Key { return kv.Key{"imp", groupID} }

func clusterKey(id string) kv.Key { return kv.Key{"cluster", id} }

// orDash substitutes "-" for an empty key segment, since empty segments
// would collapse in the encoded key.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
