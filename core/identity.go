package core

import "fmt"

// Identity is the author recorded on every commit.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (identity Identity) String() string {
	return fmt.Sprintf("%s <%s>", identity.Name, identity.Email)
}

// IsZero reports whether neither a name nor an email is set.
func (identity Identity) IsZero() bool {
	return identity.Name == "" && identity.Email == ""
}
