package task

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// titlePrefixLen bounds the description's contribution to the tracking ID so
// trailing edits to a long description do not change the task's identity.
const titlePrefixLen = 50

// TrackingID derives a stable identifier for outstanding-task tracking from
// the fields that define a logical task: the collection it lives in, the
// leading part of its description, the assignee, and the date. Identical
// inputs always produce the same ID, which is the sole de-duplication
// mechanism for re-tracked tasks.
func TrackingID(databaseID string, r Record) string {
	title := r.Task
	if runes := []rune(title); len(runes) > titlePrefixLen {
		title = string(runes[:titlePrefixLen])
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s:%s", databaseID, title, r.Employee, r.Date)))
	return "task_" + hex.EncodeToString(sum[:])[:12]
}
