// Package lifecycle moves assets through review.
//
// SEO assets go Draft -> PendingReview -> Approved or Rejected. A rejected asset
// may be submitted again. Approval and rejection are admin actions and always
// leave exactly one of the approval or rejection field sets populated.
//
// Documents never enter review and their visibility is limited to
// uploader_only and selected_users, which only sharing changes.
package lifecycle
