package config

import "time"

func timeLocation(name string) (*time.Location, error) {
	return time.LoadLocation(name)
}

// Location resolves the configured exchange timezone. Validation at load
// time guarantees this cannot fail afterwards.
func (s Schedule) Location() *time.Location {
	loc, err := timeLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
