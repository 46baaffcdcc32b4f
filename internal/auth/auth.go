// Package auth exposes the signed-in identity to the sync layer.
package auth

// Session reports the current user. Remote writes and subscriptions only
// happen while a session is authenticated.
type Session interface {
	Authenticated() bool
	UserID() string
}

// Static is a fixed session. An empty ID means signed out.
type Static struct {
	ID string
}

func (s Static) Authenticated() bool { return s.ID != "" }
func (s Static) UserID() string      { return s.ID }
