package thread

import (
	"sort"

	"anoa.com/fellowship/internal/entity"
)

// Thread is the rendering order of a discussion's comments: every top-level
// comment followed directly by its replies, both in creation order.
type Thread struct {
	DiscussionID string           `json:"discussion_id"`
	Comments     []entity.Comment `json:"comments"`
	// Orphans lists replies whose top-level comment no longer exists. They
	// are left out of Comments.
	Orphans []string `json:"orphans,omitempty"`
}

// Assemble flattens a discussion's comments into a two-tier thread.
//
// Replies are grouped under the top-level comment at the root of their parent
// chain, so data written with deeper nesting still renders two-tier. Each
// top-level ReplyCount is recomputed from the replies actually grouped under
// it; the stored counter is ignored.
func Assemble(discussionID string, comments []entity.Comment) Thread {
	sorted := make([]entity.Comment, len(comments))
	copy(sorted, comments)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	byID := make(map[string]*entity.Comment, len(sorted))
	for i := range sorted {
		byID[sorted[i].ID] = &sorted[i]
	}

	var tops []*entity.Comment
	replies := make(map[string][]entity.Comment)
	out := Thread{DiscussionID: discussionID, Comments: make([]entity.Comment, 0, len(sorted))}

	for i := range sorted {
		c := &sorted[i]
		if !c.IsReply() {
			tops = append(tops, c)
			continue
		}
		root, ok := rootOf(c, byID)
		if !ok {
			out.Orphans = append(out.Orphans, c.ID)
			continue
		}
		replies[root] = append(replies[root], *c)
	}

	for _, top := range tops {
		group := replies[top.ID]
		t := *top
		t.ReplyCount = len(group)
		out.Comments = append(out.Comments, t)
		out.Comments = append(out.Comments, group...)
	}
	return out
}

// rootOf follows parent links to the top-level comment. It gives up on
// missing parents and on cycles.
func rootOf(c *entity.Comment, byID map[string]*entity.Comment) (string, bool) {
	seen := map[string]bool{c.ID: true}
	cur := c
	for cur.IsReply() {
		parent, ok := byID[*cur.ParentCommentID]
		if !ok || seen[parent.ID] {
			return "", false
		}
		seen[parent.ID] = true
		cur = parent
	}
	return cur.ID, true
}
