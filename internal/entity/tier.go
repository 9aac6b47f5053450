package entity

// Tier is the viewer's authorization level over the shared membership graph.
type Tier int

const (
	TierMember Tier = iota
	TierAdmin
	TierSuperAdmin
)

func (t Tier) String() string {
	switch t {
	case TierSuperAdmin:
		return "SUPER_ADMIN"
	case TierAdmin:
		return "ADMIN"
	default:
		return "MEMBER"
	}
}

// AtLeast reports whether t grants everything min does.
func (t Tier) AtLeast(min Tier) bool {
	return t >= min
}
