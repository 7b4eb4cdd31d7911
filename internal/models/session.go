package models

type User struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Organization string    `json:"organization,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    Timestamp `json:"created_at"`
}

// Registration is the profile submitted when creating an account.
type Registration struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FullName     string `json:"full_name"`
	Organization string `json:"organization,omitempty"`
}

// Session is the authenticated identity of the running client.
type Session struct {
	Token         string `json:"-"`
	User          User   `json:"user"`
	Authenticated bool   `json:"authenticated"`
}

// Collection names a client-side snapshot a mutation can make stale.
type Collection string

const (
	CollectionBots      Collection = "bots"
	CollectionBindings  Collection = "channel_bindings"
	CollectionChannel   Collection = "channel_service"
	CollectionAnalytics Collection = "analytics"
	CollectionContent   Collection = "content"
	CollectionHistory   Collection = "history"
)

// Invalidation is the set of collections a caller must re-fetch before
// relying on their freshness.
type Invalidation []Collection

func Invalidates(cs ...Collection) Invalidation {
	return Invalidation(cs)
}

func (inv Invalidation) Has(c Collection) bool {
	for _, have := range inv {
		if have == c {
			return true
		}
	}
	return false
}
