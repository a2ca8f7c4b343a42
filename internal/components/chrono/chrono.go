package chrono

import "time"

// API is the time source used wherever a timestamp ends up in a result or
// a receipt, so tests can pin it.
type API interface {
	Now() time.Time
	Location() *time.Location
}

type StandardImpl struct {
	location *time.Location
}

// NewStandardImpl uses the office's local time, the same zone the remote
// server stamps its creation times in.
func NewStandardImpl() (StandardImpl, error) {
	location, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: location}, nil
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.Location())
}

// Location falls back to the machine's zone for the zero value.
func (s StandardImpl) Location() *time.Location {
	if s.location == nil {
		return time.Local
	}
	return s.location
}

// FixedImpl always returns the same instant.
type FixedImpl struct {
	At time.Time
}

func (f FixedImpl) Now() time.Time {
	return f.At
}

func (f FixedImpl) Location() *time.Location {
	if f.At.Location() == nil {
		return time.UTC
	}
	return f.At.Location()
}
