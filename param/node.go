package param

import (
	"errors"
	"fmt"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-labrpc/logger"
	"github.com/arloliu/go-labrpc/proto"
)

// Setter handles "name=value". info holds the converted info values collected along the path.
type Setter func(value string, info []any) (string, error)

// Getter handles "name?".
type Getter func(info []any) (string, error)

// Toggler handles a path without an operation symbol.
type Toggler func(info []any) (string, error)

// InfoConverter converts the text after '-' for the node it is attached to.
type InfoConverter func(info string) (any, error)

// ErrInvalidName is returned when a child name cannot be addressed by the grammar.
var ErrInvalidName = errors.New("invalid parameter name")

const rootName = "root"

// Node is one parameter in a command tree.
//
// A Node is safe for concurrent Dispatch calls; handlers attached to it must
// do their own synchronisation when they share state.
type Node struct {
	set      Setter
	get      Getter
	toggle   Toggler
	info     InfoConverter
	children *xsync.MapOf[string, *Node]
}

// Option configures a Node.
type Option interface {
	apply(n *Node) error
}

type optFunc func(n *Node) error

func (f optFunc) apply(n *Node) error {
	return f(n)
}

// WithSetter attaches the set handler.
func WithSetter(fn Setter) Option {
	return optFunc(func(n *Node) error {
		n.set = fn
		return nil
	})
}

// WithGetter attaches the get handler.
func WithGetter(fn Getter) Option {
	return optFunc(func(n *Node) error {
		n.get = fn
		return nil
	})
}

// WithToggle attaches the toggle handler.
func WithToggle(fn Toggler) Option {
	return optFunc(func(n *Node) error {
		n.toggle = fn
		return nil
	})
}

// WithInfo makes the node require an info value and converts it with fn.
func WithInfo(fn InfoConverter) Option {
	return optFunc(func(n *Node) error {
		n.info = fn
		return nil
	})
}

// WithChild adds a child node under name.
func WithChild(name string, child *Node) Option {
	return optFunc(func(n *Node) error {
		return n.AddChild(name, child)
	})
}

// New creates a node.
func New(opts ...Option) (*Node, error) {
	n := &Node{children: xsync.NewMapOf[string, *Node]()}
	for _, opt := range opts {
		if err := opt.apply(n); err != nil {
			return nil, err
		}
	}

	return n, nil
}

// MustNew is like New but panics on an invalid option. It simplifies static tree definitions.
func MustNew(opts ...Option) *Node {
	n, err := New(opts...)
	if err != nil {
		panic(err)
	}

	return n
}

// Key returns the lookup key of a child name: lower case without spaces.
func Key(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", ""))
}

// AddChild adds or replaces the child stored under name.
// Names are case insensitive and must not contain ':', '=', '?' or '-'.
func (n *Node) AddChild(name string, child *Node) error {
	key := Key(name)
	if key == "" || strings.ContainsAny(key, ":=?-") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if child == nil {
		return fmt.Errorf("%w: %q has no node", ErrInvalidName, name)
	}

	n.children.Store(key, child)

	return nil
}

// RemoveChild removes the child stored under name and reports whether it existed.
func (n *Node) RemoveChild(name string) bool {
	_, ok := n.children.LoadAndDelete(Key(name))
	return ok
}

// Child returns the direct child stored under name.
func (n *Node) Child(name string) (*Node, bool) {
	return n.children.Load(Key(name))
}

// Children returns the keys of the direct children.
func (n *Node) Children() []string {
	names := make([]string, 0, n.children.Size())
	n.children.Range(func(key string, _ *Node) bool {
		names = append(names, key)
		return true
	})

	return names
}

// Resolve walks a ':' separated path of child names without invoking any handler.
// Info segments are ignored.
func (n *Node) Resolve(path string) (*Node, error) {
	node := n
	display := ""
	segs := strings.Split(strings.TrimSpace(path), ":")
	for i, seg := range segs {
		name := seg
		if dash := strings.IndexByte(seg, '-'); dash >= 0 {
			name = seg[:dash]
		}
		name = strings.ReplaceAll(name, " ", "")
		if name == "" {
			continue
		}

		child, ok := node.children.Load(strings.ToLower(name))
		if !ok {
			remaining := strings.TrimSpace(strings.Join(segs[i:], ":"))
			return nil, &AddressError{Name: name, Path: displayPath(display), Remaining: remaining}
		}
		node = child
		display = joinPath(display, name)
	}

	return node, nil
}

// Run dispatches message and returns the encoded reply line without termination.
func (n *Node) Run(message string) string {
	return n.Dispatch(message).String()
}

// Dispatch parses message, walks the tree and applies the requested operation.
func (n *Node) Dispatch(message string) proto.Reply {
	cmd := parse(message)

	var info []any
	node, path := n, ""
	text := cmd.text

	if reply, ok := node.enter(displayPath(path), text, "", false, &info); !ok {
		return reply
	}

	for _, st := range cmd.steps {
		child, ok := node.children.Load(strings.ToLower(st.name))
		if !ok {
			return proto.Failure((&AddressError{Name: st.name, Path: displayPath(path), Remaining: st.text}).Error())
		}

		node, path, text = child, joinPath(path, st.name), st.rest
		if reply, ok := node.enter(displayPath(path), text, st.info, st.hasInfo, &info); !ok {
			return reply
		}
	}

	return node.invoke(cmd.op, displayPath(path), text, info)
}

// enter checks the info expectation of the node and converts the value.
func (n *Node) enter(path, text, info string, hasInfo bool, acc *[]any) (proto.Reply, bool) {
	switch {
	case hasInfo && n.info == nil:
		return proto.Failuref("Received info %s for %s when not needed, remaining message: %s", info, path, text), false
	case !hasInfo && n.info != nil:
		return proto.Failuref("Did not receive info for %s when needed, remaining message: %s", path, text), false
	case n.info != nil:
		v, err := n.callInfo(path, info)
		if errors.Is(err, errHandlerPanic) {
			return proto.Exception(), false
		}
		if err != nil {
			return proto.Failure(err.Error()), false
		}
		*acc = append(*acc, v)
	}

	return proto.Reply{}, true
}

func (n *Node) invoke(op opKind, path, text string, info []any) proto.Reply {
	var (
		msg string
		err error
	)

	switch op {
	case opGet:
		if n.get == nil {
			return missing(op, path, text)
		}
		msg, err = protect(path, func() (string, error) { return n.get(info) })
	case opSet:
		if n.set == nil {
			return missing(op, path, text)
		}
		msg, err = protect(path, func() (string, error) { return n.set(text, info) })
	default:
		if n.toggle == nil {
			return missing(op, path, text)
		}
		msg, err = protect(path, func() (string, error) { return n.toggle(info) })
	}

	if errors.Is(err, errHandlerPanic) {
		return proto.Exception()
	}
	if err != nil {
		return proto.Failure(err.Error())
	}

	return proto.Success(msg)
}

// errHandlerPanic marks a recovered handler panic. Clients only see proto.ExceptionMessage.
var errHandlerPanic = errors.New("handler panicked")

func (n *Node) callInfo(path, info string) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(path, "info", r)
			err = errHandlerPanic
		}
	}()

	return n.info(info)
}

// protect recovers a handler panic so one bad handler cannot take down a connection.
func protect(path string, fn func() (string, error)) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(path, "handler", r)
			msg, err = "", errHandlerPanic
		}
	}()

	return fn()
}

func logPanic(path, kind string, r any) {
	logger.Warn("an exception occurred while dispatching", "path", path, "kind", kind, "panic", fmt.Sprint(r))
}

func missing(op opKind, path, text string) proto.Reply {
	return proto.Failuref("Requested %s function for %s but this does not exist, remaining message: %s", op, path, text)
}

func displayPath(path string) string {
	if path == "" {
		return rootName
	}

	return path
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}

	return parent + ":" + name
}
