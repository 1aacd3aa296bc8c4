package auth

// Static is a fixed identity for tests and the dev backend.
type Static struct {
	ID     string
	Bearer string
}

func (s *Static) UserID() string { return s.ID }
func (s *Static) Token() string  { return s.Bearer }
