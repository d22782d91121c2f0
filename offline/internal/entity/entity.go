// Package entity is the closed set of entity kinds the sync engine knows how
// to push, each carrying its remote resource path.
package entity

import "fmt"

// Kind identifies one synchronisable entity type. The zero value is invalid.
type Kind uint8

const (
	invalid Kind = iota
	Trip
	Location
	Activity
	Transportation
	Lodging
	Journal
	Photo
	Album
	Checklist
	ChecklistItem
	EntityLink
	Tag
	TagAssignment
	Companion
	TripCompanion
	LocationCategory
	WeatherData
	FlightTracking
	DismissedValidationIssue
	kindCount
)

type descriptor struct {
	name     string // wire name used by the mutation queue
	endpoint string // remote base path
}

// descriptors is indexed by Kind. Its length is pinned to kindCount, so adding
// a Kind without a descriptor fails to compile.
var descriptors = [kindCount]descriptor{
	invalid:                  {},
	Trip:                     {"trip", "/trips"},
	Location:                 {"location", "/locations"},
	Activity:                 {"activity", "/activities"},
	Transportation:           {"transportation", "/transportation"},
	Lodging:                  {"lodging", "/lodging"},
	Journal:                  {"journal", "/journal"},
	Photo:                    {"photo", "/photos"},
	Album:                    {"album", "/albums"},
	Checklist:                {"checklist", "/checklists"},
	ChecklistItem:            {"checklistItem", "/checklist-items"},
	EntityLink:               {"entityLink", "/entity-links"},
	Tag:                      {"tag", "/tags"},
	TagAssignment:            {"tagAssignment", "/tag-assignments"},
	Companion:                {"companion", "/companions"},
	TripCompanion:            {"tripCompanion", "/trip-companions"},
	LocationCategory:         {"locationCategory", "/location-categories"},
	WeatherData:              {"weatherData", "/weather"},
	FlightTracking:           {"flightTracking", "/flight-tracking"},
	DismissedValidationIssue: {"dismissedValidationIssue", "/validation/dismissed"},
}

var byName = func() map[string]Kind {
	m := make(map[string]Kind, kindCount)
	for k := Trip; k < kindCount; k++ {
		m[descriptors[k].name] = k
	}
	return m
}()

// Parse maps a queue entity type name to its Kind.
func Parse(name string) (Kind, bool) {
	k, ok := byName[name]
	return k, ok
}

// All returns every valid Kind in declaration order.
func All() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := Trip; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Valid reports whether k is a member of the closed set.
func (k Kind) Valid() bool { return k > invalid && k < kindCount }

// String returns the wire name.
func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return descriptors[k].name
}

// Endpoint returns the remote base path, e.g. "/activities".
func (k Kind) Endpoint() string {
	if !k.Valid() {
		return ""
	}
	return descriptors[k].endpoint
}

// InjectsTripID reports whether creates for k carry the owning trip id in the
// payload. Every kind except Trip itself does.
func (k Kind) InjectsTripID() bool { return k.Valid() && k != Trip }
