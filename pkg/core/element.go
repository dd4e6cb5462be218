// Package core defines the data model and collaborator contracts shared by the
// resolution-and-dispatch engine.
package core

// Role is the semantic category of a UI element.
type Role string

// Semantic roles.
const (
	RoleButton      Role = "button"
	RoleLink        Role = "link"
	RoleMenuItem    Role = "menu_item"
	RoleCheckbox    Role = "checkbox"
	RoleRadioButton Role = "radio_button"
	RoleTextField   Role = "text_field"
	RoleTextArea    Role = "text_area"
	RoleOther       Role = "other"
	RoleUnknown     Role = "unknown"
)

// IsTextEntry returns true for roles that accept typed text.
func (r Role) IsTextEntry() bool {
	return r == RoleTextField || r == RoleTextArea
}

// Attribute names checked by text matching, in priority order.
const (
	AttrTitle       = "title"
	AttrDescription = "description"
	AttrValue       = "value"
)

// MatchAttributes is the fixed priority order used when matching an element.
var MatchAttributes = []string{AttrTitle, AttrDescription, AttrValue}

// Bounds represents element position and size
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// IsEmpty returns true when the bounds have no area.
func (b Bounds) IsEmpty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// AppInfo identifies the application owning an element.
type AppInfo struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
}

// Node is a live element of an application's accessibility tree.
// Every accessor may fail: the underlying OS element can disappear at any time.
type Node interface {
	// Role returns the native role identifier (e.g. "AXButton").
	Role() (string, error)

	// Attribute returns a text attribute (title, description, value).
	// An absent attribute is reported as "" with a nil error.
	Attribute(name string) (string, error)

	// Frame returns the element's on-screen rectangle.
	Frame() (Bounds, error)

	// Enabled reports whether the element accepts interaction.
	Enabled() (bool, error)

	// Editable reports whether a text-entry element currently accepts input.
	Editable() (bool, error)

	// Children returns the direct children in document order.
	Children() ([]Node, error)
}

// AppRoot is the starting point of a traversal.
type AppRoot struct {
	App  AppInfo
	Node Node
}

// ElementRecord is a flat, ephemeral view of one element captured during a traversal.
// Empty text fields mean the attribute was absent or unreadable.
type ElementRecord struct {
	Role        Role    `json:"role"`
	NativeRole  string  `json:"nativeRole,omitempty"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Value       string  `json:"value,omitempty"`
	Bounds      Bounds  `json:"bounds"`
	Enabled     bool    `json:"enabled"`
	App         AppInfo `json:"app"`
	Depth       int     `json:"depth"`

	// Source is the live element this record was read from.
	Source Node `json:"-"`
}

// Attr returns the named text attribute and whether it is present.
func (e *ElementRecord) Attr(name string) (string, bool) {
	var v string
	switch name {
	case AttrTitle:
		v = e.Title
	case AttrDescription:
		v = e.Description
	case AttrValue:
		v = e.Value
	}
	return v, v != ""
}

// Label returns the first non-empty text attribute, for logging.
func (e *ElementRecord) Label() string {
	for _, name := range MatchAttributes {
		if v, ok := e.Attr(name); ok {
			return v
		}
	}
	return ""
}
