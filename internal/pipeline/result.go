package pipeline

import "github.com/user/ytstats-ingest/internal/model"

// Result is the outcome of one per-video fetch task. A failed task carries
// only VideoID and Err; siblings in the same batch are unaffected.
type Result struct {
	VideoID  string
	Video    *model.Video
	Comments []*model.Comment
	Err      error
}
