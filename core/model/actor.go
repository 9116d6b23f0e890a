package model

// Actor is the already-authenticated identity performing an operation. The
// HTTP layer resolves it from the session; core packages only authorize.
type Actor struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Name       string `json:"name,omitempty"`
	Department string `json:"department,omitempty"`
	Hospital   string `json:"hospital,omitempty"`
}
