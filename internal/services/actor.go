package services

// Actor is the authenticated caller of a core operation, supplied by the
// identity collaborator and trusted as-is.
type Actor struct {
	ID        string
	Role      string
	IPAddress string
	UserAgent string
}

// SystemActor is used for background work with no human caller
var SystemActor = Actor{ID: "system", Role: "system"}
