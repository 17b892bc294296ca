package tree

import (
	"strings"

	"github.com/nexusformat/nxtree/pkg/container"
)

// Attribute names of the default-plottable convention. The tree model
// only resolves the convention; rendering is someone else's job.
const (
	// AttrDefault on a group names the child group to descend into.
	AttrDefault = "default"

	// AttrSignal on a group names the child field holding the primary
	// signal. The older field-level form marks the signal field itself
	// with signal=1.
	AttrSignal = "signal"

	// AttrAxes names the axis fields for a signal, separated by ":" or
	// ",". A "." entry means the axis has no field.
	AttrAxes = "axes"
)

// Plottable is a resolved default-plottable: the primary signal field and
// its axis fields in axis order.
type Plottable struct {
	Signal *Field
	Axes   []*Field
}

// DefaultPlottable resolves the default-plottable convention under this
// group:
//
//  1. A "default" attribute names a child group to descend into.
//  2. A "signal" attribute on the group names the signal field among its
//     children (current NeXus convention).
//  3. Failing that, a child field carrying signal=1 is the signal
//     (classic convention).
//  4. Otherwise child groups are searched depth-first in insertion
//     order; the first resolution wins.
//
// Axis fields come from the "axes" attribute of the group or of the
// signal field. Fails with ErrNotFound when nothing resolves.
func (g *Group) DefaultPlottable() (*Plottable, error) {
	if p := g.resolvePlottable(g.root.opts.MaxLinkDepth); p != nil {
		return p, nil
	}
	return nil, container.NewError(container.ErrNotFound,
		"no default plottable under this group", g.Path())
}

func (g *Group) resolvePlottable(depth int) *Plottable {
	if depth <= 0 {
		return nil
	}

	if a, ok := g.Attr(AttrDefault); ok {
		if sub, err := g.ChildGroup(a.AsString()); err == nil {
			if p := sub.resolvePlottable(depth - 1); p != nil {
				return p
			}
		}
	}

	if a, ok := g.Attr(AttrSignal); ok {
		if signal, err := g.ChildField(a.AsString()); err == nil {
			return &Plottable{
				Signal: signal,
				Axes:   g.axesFields(g, signal),
			}
		}
	}

	for _, c := range g.children {
		f, ok := c.(*Field)
		if !ok {
			continue
		}
		a, ok := f.Attr(AttrSignal)
		if !ok {
			continue
		}
		if v, err := a.AsInt(); (err == nil && v == 1) || a.AsString() == "1" {
			return &Plottable{
				Signal: f,
				Axes:   g.axesFields(f, f),
			}
		}
	}

	for _, c := range g.children {
		if sub, ok := c.(*Group); ok {
			if p := sub.resolvePlottable(depth - 1); p != nil {
				return p
			}
		}
	}
	return nil
}

// axesFields resolves the axes attribute of carrier into sibling fields
// of signal. Unresolvable or "." entries are skipped.
func (g *Group) axesFields(carrier Node, signal *Field) []*Field {
	a, ok := carrier.Attr(AttrAxes)
	if !ok {
		return nil
	}
	names := strings.FieldsFunc(a.AsString(), func(r rune) bool {
		return r == ':' || r == ','
	})
	var axes []*Field
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || name == "." || name == signal.Name() {
			continue
		}
		if f, err := g.ChildField(name); err == nil {
			axes = append(axes, f)
		}
	}
	return axes
}
