package auth

// OAuth scopes understood by the challenge API.
const (
	ScopeChallengesRead  = "challenges:read"
	ScopeChallengesWrite = "challenges:write"
)
