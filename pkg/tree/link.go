package tree

import (
	"fmt"
	"strings"

	"github.com/nexusformat/nxtree/pkg/container"
)

// Link is a node holding a non-owning path reference to another node,
// inside the same tree or in an external container ("file.nxt#/path").
// The referent is never materialized at discovery time; Resolve walks to
// it on demand.
type Link struct {
	node
	target string
}

func (l *Link) Kind() container.Kind { return container.KindLink }

// Target returns the referenced path.
func (l *Link) Target() string { return l.target }

// IsExternal reports whether the target lives in another container.
func (l *Link) IsExternal() bool {
	return strings.Contains(l.target, "#")
}

// SplitExternal returns the container file and in-container path of an
// external target.
func (l *Link) SplitExternal() (file, path string, ok bool) {
	idx := strings.Index(l.target, "#")
	if idx < 0 {
		return "", "", false
	}
	return l.target[:idx], l.target[idx+1:], true
}

// Resolve walks to the referenced node, following chained links up to the
// root's MaxLinkDepth. Cycles exhaust the depth budget and fail rather
// than spin.
//
// External targets need the root's external resolver (normally the
// registry); without one they fail with ErrAccess.
func (l *Link) Resolve() (Node, error) {
	return l.resolve(l.root.opts.MaxLinkDepth)
}

func (l *Link) resolve(depth int) (Node, error) {
	if depth <= 0 {
		return nil, container.NewError(container.ErrInvalidArgument,
			fmt.Sprintf("link chain deeper than %d, possible cycle", l.root.opts.MaxLinkDepth),
			l.Path())
	}

	root := l.root
	target := l.target
	if file, path, ok := l.SplitExternal(); ok {
		if root.resolver == nil {
			return nil, container.NewError(container.ErrAccess,
				fmt.Sprintf("external link to %q but no resolver configured", file), l.Path())
		}
		external, err := root.resolver.ResolveRoot(file)
		if err != nil {
			return nil, err
		}
		root = external
		target = path
	}

	node, err := root.Lookup(strings.TrimPrefix(target, "/"))
	if err != nil {
		return nil, err
	}
	if next, ok := node.(*Link); ok {
		return next.resolve(depth - 1)
	}
	return node, nil
}

// ExternalResolver locates an open root by container file path. The
// registry implements it; anything that can map a file name to a Root
// will do.
type ExternalResolver interface {
	ResolveRoot(file string) (*Root, error)
}
