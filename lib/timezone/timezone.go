package timezone

import (
	"sync/atomic"
	"time"
)

const DefaultLocation = "America/Los_Angeles"

var location atomic.Pointer[time.Location]

func init() {
	loc, err := time.LoadLocation(DefaultLocation)
	if err != nil {
		panic(err)
	}
	location.Store(loc)
}

// SetLocation changes the zone every timestamp is taken in, an empty name
// keeps the current zone.
func SetLocation(name string) error {
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return err
	}
	location.Store(loc)
	return nil
}

func Location() *time.Location {
	return location.Load()
}

// force the registrar's timezone because sometimes our servers
// end up elsewhere which will cause disturbances when
// scheduling harvests and stamping baselines by wall clock
func Now() time.Time {
	return time.Now().In(Location())
}
