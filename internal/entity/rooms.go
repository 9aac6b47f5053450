package entity

// ChatRoom is never mutated after creation; deletion is an explicit admin
// action observed through the room catalog stream.
type ChatRoom struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CreatedBy    string `json:"createdBy"`
	CreatorName  string `json:"creatorName"`
	CreatorImage string `json:"creatorImage,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
}

// MemberInfo is one entry of a room's membership set, keyed by user id.
type MemberInfo struct {
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage,omitempty"`
	AddedAt      int64  `json:"addedAt"`
}

// MembershipMap maps roomID -> userID -> member info. Mutations are always
// single-key merges, never full-collection overwrites.
type MembershipMap map[string]map[string]MemberInfo

// AdminGrant marks a user as admin tier. The super-admin identity is fixed by
// configuration and never appears here.
type AdminGrant struct {
	IsAdmin    bool  `json:"isAdmin"`
	AssignedAt int64 `json:"assignedAt"`
}

// AdminMap maps userID -> grant.
type AdminMap map[string]AdminGrant
