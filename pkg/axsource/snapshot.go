// Package axsource reads accessibility snapshots saved as XML.
//
// Each XML element is one accessibility node and its tag is the native role:
//
//	<AXApplication title="Mail" pid="812">
//	  <AXWindow title="Inbox" x="0" y="0" width="1280" height="800">
//	    <AXLink title="Gmail" x="100" y="200" width="80" height="20"/>
//	  </AXWindow>
//	</AXApplication>
//
// Recognised attributes are title (or name, label, text), description (or desc,
// content-desc), value, x, y, width, height, enabled and editable. The root
// element names the application through title or name and pid.
package axsource

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/devicelab-dev/axrunner/pkg/core"
)

// Element is one node of a parsed snapshot.
type Element struct {
	Type        string
	Title       string
	Description string
	Value       string
	Bounds      core.Bounds
	IsEnabled   bool
	IsEditable  bool
	PID         int
	Kids        []*Element
}

// Role implements core.Node.
func (e *Element) Role() (string, error) { return e.Type, nil }

// Attribute implements core.Node.
func (e *Element) Attribute(name string) (string, error) {
	switch name {
	case core.AttrTitle:
		return e.Title, nil
	case core.AttrDescription:
		return e.Description, nil
	case core.AttrValue:
		return e.Value, nil
	}
	return "", nil
}

// Frame implements core.Node.
func (e *Element) Frame() (core.Bounds, error) { return e.Bounds, nil }

// Enabled implements core.Node.
func (e *Element) Enabled() (bool, error) { return e.IsEnabled, nil }

// Editable implements core.Node.
func (e *Element) Editable() (bool, error) { return e.IsEditable, nil }

// Children implements core.Node.
func (e *Element) Children() ([]core.Node, error) {
	nodes := make([]core.Node, len(e.Kids))
	for i, k := range e.Kids {
		nodes[i] = k
	}
	return nodes, nil
}

// Parse decodes a snapshot. The first top-level element is the application root.
func Parse(data []byte) (*core.AppRoot, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))

	var parseElement func(start xml.StartElement) (*Element, error)
	parseElement = func(start xml.StartElement) (*Element, error) {
		elem := newElement(start)
		for {
			token, err := decoder.Token()
			if err != nil {
				return nil, fmt.Errorf("unterminated <%s>: %w", start.Name.Local, err)
			}
			switch t := token.(type) {
			case xml.StartElement:
				child, err := parseElement(t)
				if err != nil {
					return nil, err
				}
				elem.Kids = append(elem.Kids, child)
			case xml.EndElement:
				return elem, nil
			}
		}
	}

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("no elements found in snapshot")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse snapshot: %w", err)
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		root, err := parseElement(start)
		if err != nil {
			return nil, fmt.Errorf("failed to parse snapshot: %w", err)
		}
		return &core.AppRoot{
			App:  core.AppInfo{Name: root.Title, PID: root.PID},
			Node: root,
		}, nil
	}
}

func newElement(t xml.StartElement) *Element {
	elem := &Element{
		Type:       t.Name.Local,
		IsEnabled:  true, // default
		IsEditable: true, // default
	}

	for _, attr := range t.Attr {
		switch attr.Name.Local {
		case "title", "name", "label", "text":
			if elem.Title == "" {
				elem.Title = attr.Value
			}
		case "description", "desc", "content-desc":
			if elem.Description == "" {
				elem.Description = attr.Value
			}
		case "value":
			elem.Value = attr.Value
		case "enabled":
			elem.IsEnabled = attr.Value != "false"
		case "editable":
			elem.IsEditable = attr.Value != "false"
		case "pid":
			if v, err := strconv.Atoi(attr.Value); err == nil {
				elem.PID = v
			}
		case "x":
			if v, err := strconv.Atoi(attr.Value); err == nil {
				elem.Bounds.X = v
			}
		case "y":
			if v, err := strconv.Atoi(attr.Value); err == nil {
				elem.Bounds.Y = v
			}
		case "width":
			if v, err := strconv.Atoi(attr.Value); err == nil {
				elem.Bounds.Width = v
			}
		case "height":
			if v, err := strconv.Atoi(attr.Value); err == nil {
				elem.Bounds.Height = v
			}
		}
	}
	return elem
}
