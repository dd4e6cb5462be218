// Package role maps native accessibility roles to semantic roles and decides
// whether an element can be acted on.
package role

import (
	"strings"

	"github.com/devicelab-dev/axrunner/pkg/core"
)

// defaultRoles covers macOS AX roles, iOS XCUIElement types and common Android widgets.
// Keys are lower-case.
var defaultRoles = map[string]core.Role{
	// macOS
	"axbutton":          core.RoleButton,
	"axpopupbutton":     core.RoleButton,
	"axmenubutton":      core.RoleButton,
	"axdisclosure":      core.RoleButton,
	"axlink":            core.RoleLink,
	"axmenuitem":        core.RoleMenuItem,
	"axmenubaritem":     core.RoleMenuItem,
	"axcheckbox":        core.RoleCheckbox,
	"axradiobutton":     core.RoleRadioButton,
	"axtextfield":       core.RoleTextField,
	"axsearchfield":     core.RoleTextField,
	"axsecuretextfield": core.RoleTextField,
	"axcombobox":        core.RoleTextField,
	"axtextarea":        core.RoleTextArea,
	"axstatictext":      core.RoleOther,
	"axgroup":           core.RoleOther,
	"axwindow":          core.RoleOther,
	"axapplication":     core.RoleOther,
	"aximage":           core.RoleOther,
	"axscrollarea":      core.RoleOther,
	"axtoolbar":         core.RoleOther,
	"axwebarea":         core.RoleOther,
	"axlist":            core.RoleOther,
	"axrow":             core.RoleOther,
	"axcell":            core.RoleOther,
	"axtable":           core.RoleOther,
	"axmenu":            core.RoleOther,
	"axmenubar":         core.RoleOther,
	"axsplitgroup":      core.RoleOther,
	"axtabgroup":        core.RoleOther,
	"axheading":         core.RoleOther,

	// iOS
	"xcuielementtypebutton":          core.RoleButton,
	"xcuielementtypelink":            core.RoleLink,
	"xcuielementtypemenuitem":        core.RoleMenuItem,
	"xcuielementtypecheckbox":        core.RoleCheckbox,
	"xcuielementtypeswitch":          core.RoleCheckbox,
	"xcuielementtypetoggle":          core.RoleCheckbox,
	"xcuielementtyperadiobutton":     core.RoleRadioButton,
	"xcuielementtypetextfield":       core.RoleTextField,
	"xcuielementtypesecuretextfield": core.RoleTextField,
	"xcuielementtypesearchfield":     core.RoleTextField,
	"xcuielementtypetextview":        core.RoleTextArea,
	"xcuielementtypestatictext":      core.RoleOther,
	"xcuielementtypeother":           core.RoleOther,
	"xcuielementtypewindow":          core.RoleOther,
	"xcuielementtypeapplication":     core.RoleOther,
	"xcuielementtypeimage":           core.RoleOther,
	"xcuielementtypecell":            core.RoleOther,

	// Android
	"android.widget.button":         core.RoleButton,
	"android.widget.imagebutton":    core.RoleButton,
	"android.widget.checkbox":       core.RoleCheckbox,
	"android.widget.switch":         core.RoleCheckbox,
	"android.widget.radiobutton":    core.RoleRadioButton,
	"android.widget.edittext":       core.RoleTextField,
	"android.widget.textview":       core.RoleOther,
	"android.widget.imageview":      core.RoleOther,
	"android.widget.framelayout":    core.RoleOther,
	"android.widget.linearlayout":   core.RoleOther,
	"android.view.viewgroup":        core.RoleOther,
	"android.widget.scrollview":     core.RoleOther,
	"android.widget.relativelayout": core.RoleOther,
}

// interactive is the set of roles an action can target.
var interactive = map[core.Role]bool{
	core.RoleButton:      true,
	core.RoleLink:        true,
	core.RoleMenuItem:    true,
	core.RoleCheckbox:    true,
	core.RoleRadioButton: true,
	core.RoleTextField:   true,
	core.RoleTextArea:    true,
}

// Classifier maps native roles to semantic roles. It is immutable after construction.
type Classifier struct {
	roles map[string]core.Role
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithMapping adds or overrides native role mappings. Native names are case-insensitive.
func WithMapping(m map[string]core.Role) Option {
	return func(c *Classifier) {
		for native, r := range m {
			c.roles[strings.ToLower(native)] = r
		}
	}
}

// New creates a classifier seeded with the built-in role table.
func New(opts ...Option) *Classifier {
	c := &Classifier{roles: make(map[string]core.Role, len(defaultRoles))}
	for k, v := range defaultRoles {
		c.roles[k] = v
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify returns the semantic role for a native role identifier.
func (c *Classifier) Classify(native string) core.Role {
	native = strings.TrimSpace(native)
	if native == "" {
		return core.RoleUnknown
	}
	if r, ok := c.roles[strings.ToLower(native)]; ok {
		return r
	}
	return core.RoleUnknown
}

// IsInteractive reports whether a semantic role can be the target of an action.
func IsInteractive(r core.Role) bool {
	return interactive[r]
}

// IsActionable reports whether rec can be acted on right now.
// Text-entry roles additionally require the live element to report itself editable;
// that state is queried on every call, never cached.
func (c *Classifier) IsActionable(rec *core.ElementRecord) bool {
	if rec == nil || !IsInteractive(rec.Role) || !rec.Enabled {
		return false
	}
	if !rec.Role.IsTextEntry() {
		return true
	}
	return isEditable(rec.Source)
}

// Filter returns the actionable records, keeping traversal order.
func (c *Classifier) Filter(records []core.ElementRecord) []*core.ElementRecord {
	var result []*core.ElementRecord
	for i := range records {
		if c.IsActionable(&records[i]) {
			result = append(result, &records[i])
		}
	}
	return result
}

func isEditable(n core.Node) (editable bool) {
	if n == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			editable = false
		}
	}()
	ok, err := n.Editable()
	return err == nil && ok
}
