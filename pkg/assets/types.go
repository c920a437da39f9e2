package assets

import (
	"time"
)

// Role represents a user's global role
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleContentCreator Role = "content_creator"
	RoleSeoSpecialist  Role = "seo_specialist"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleContentCreator, RoleSeoSpecialist:
		return true
	}
	return false
}

// UploadType separates marketing assets that go through review from private documents
type UploadType string

const (
	UploadTypeSEO UploadType = "seo"
	UploadTypeDoc UploadType = "doc"
)

// Valid reports whether t is a known upload type
func (t UploadType) Valid() bool {
	return t == UploadTypeSEO || t == UploadTypeDoc
}

// Kind represents the media kind of an asset
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindLink     Kind = "link"
)

// Valid reports whether k is a known asset kind
func (k Kind) Valid() bool {
	switch k {
	case KindImage, KindVideo, KindDocument, KindLink:
		return true
	}
	return false
}

// Status represents the review lifecycle state of an asset
type Status string

const (
	StatusDraft         Status = "draft"
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Visibility is the access-control mode attached to an asset
type Visibility string

const (
	VisibilityUploaderOnly  Visibility = "uploader_only"
	VisibilityAdminOnly     Visibility = "admin_only"
	VisibilityCompany       Visibility = "company"
	VisibilityTeam          Visibility = "team" // reserved, always denies
	VisibilityRole          Visibility = "role"
	VisibilitySelectedUsers Visibility = "selected_users"
	VisibilityPublic        Visibility = "public"
)

// AllVisibilities lists every visibility mode in evaluation order
func AllVisibilities() []Visibility {
	return []Visibility{
		VisibilityPublic,
		VisibilityUploaderOnly,
		VisibilityAdminOnly,
		VisibilityCompany,
		VisibilityTeam,
		VisibilityRole,
		VisibilitySelectedUsers,
	}
}

// ParseVisibility validates a visibility string
func ParseVisibility(s string) (Visibility, error) {
	v := Visibility(s)
	for _, known := range AllVisibilities() {
		if v == known {
			return v, nil
		}
	}
	return "", Validationf("invalid visibility %q", s)
}

// Shareable reports whether grants may be created or revoked under this mode
func (v Visibility) Shareable() bool {
	return v == VisibilityUploaderOnly || v == VisibilitySelectedUsers
}

// TargetType identifies who a share grant applies to
type TargetType string

const (
	TargetUser TargetType = "user"
	TargetRole TargetType = "role"
	TargetTeam TargetType = "team"
)

// User represents an account as seen by the authorization engine
type User struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email,omitempty"`
	Role      Role    `json:"role"`
	CompanyID *string `json:"company_id,omitempty"`
}

// IsAdmin reports whether the user holds the admin role
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Asset represents an uploaded asset and its current review outcome
type Asset struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Kind        Kind       `json:"kind"`
	UploaderID  string     `json:"uploader_id"`
	CompanyID   *string    `json:"company_id,omitempty"`
	UploadType  UploadType `json:"upload_type"`
	Status      Status     `json:"status"`
	Visibility  Visibility `json:"visibility"`
	AllowedRole *Role      `json:"allowed_role,omitempty"`

	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	ApprovedByID *string    `json:"approved_by_id,omitempty"`

	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectedByID    *string    `json:"rejected_by_id,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDoc reports whether the asset is a private document
func (a *Asset) IsDoc() bool {
	return a.UploadType == UploadTypeDoc
}

// IsSEO reports whether the asset participates in the review pipeline
func (a *Asset) IsSEO() bool {
	return a.UploadType == UploadTypeSEO
}

// OwnedBy reports whether the user uploaded the asset
func (a *Asset) OwnedBy(u *User) bool {
	return u != nil && a.UploaderID == u.ID
}

// Clone returns a deep copy so callers can mutate without aliasing stored state
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	c := *a
	c.CompanyID = cloneString(a.CompanyID)
	c.ApprovedByID = cloneString(a.ApprovedByID)
	c.RejectedByID = cloneString(a.RejectedByID)
	c.RejectionReason = cloneString(a.RejectionReason)
	c.ApprovedAt = cloneTime(a.ApprovedAt)
	c.RejectedAt = cloneTime(a.RejectedAt)
	if a.AllowedRole != nil {
		r := *a.AllowedRole
		c.AllowedRole = &r
	}
	return &c
}

// MarkApproved records an approval and clears any earlier rejection
func (a *Asset) MarkApproved(reviewerID string, at time.Time) {
	a.Status = StatusApproved
	a.ApprovedAt = &at
	a.ApprovedByID = &reviewerID
	a.RejectedAt = nil
	a.RejectedByID = nil
	a.RejectionReason = nil
	a.UpdatedAt = at
}

// MarkRejected records a rejection and clears any earlier approval
func (a *Asset) MarkRejected(reviewerID, reason string, at time.Time) {
	a.Status = StatusRejected
	a.RejectedAt = &at
	a.RejectedByID = &reviewerID
	a.RejectionReason = &reason
	a.ApprovedAt = nil
	a.ApprovedByID = nil
	a.UpdatedAt = at
}

// ShareGrant represents an explicit access record on an asset
type ShareGrant struct {
	ID           string     `json:"id"`
	AssetID      string     `json:"asset_id"`
	SharedByID   string     `json:"shared_by_id"`
	SharedWithID *string    `json:"shared_with_id,omitempty"` // set for user targets
	TargetType   TargetType `json:"target_type"`
	TargetID     *string    `json:"target_id,omitempty"` // role name for role targets
	CreatedAt    time.Time  `json:"created_at"`
}

// ApprovalAction is the outcome recorded by a reviewer
type ApprovalAction string

const (
	ApprovalActionApprove ApprovalAction = "approve"
	ApprovalActionReject  ApprovalAction = "reject"
)

// ApprovalRecord is an append-only entry for a single review decision
type ApprovalRecord struct {
	ID         string         `json:"id"`
	AssetID    string         `json:"asset_id"`
	ReviewerID string         `json:"reviewer_id"`
	Action     ApprovalAction `json:"action"`
	Reason     *string        `json:"reason,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SameCompany reports whether both sides carry a company and it matches
func SameCompany(a, b *string) bool {
	return a != nil && b != nil && *a != "" && *a == *b
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
