package domain

// ChannelPolicy is the access policy attached to a channel name.
type ChannelPolicy string

const (
	// PolicyPublic channels accept any authenticated principal.
	PolicyPublic ChannelPolicy = "public"

	// PolicyPrincipal channels accept only principals matching or belonging
	// to the target encoded in the channel name.
	PolicyPrincipal ChannelPolicy = "principal"
)

// Decision is the outcome of a subscription authorization check.
type Decision int

const (
	DecisionDenied Decision = iota
	DecisionAuthorized
)

func (d Decision) String() string {
	if d == DecisionAuthorized {
		return "authorized"
	}
	return "denied"
}

// Authorized reports whether the decision grants access.
func (d Decision) Authorized() bool {
	return d == DecisionAuthorized
}
