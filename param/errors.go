package param

import "fmt"

// AddressError reports a path segment that does not name a child.
type AddressError struct {
	// Name is the segment that was not found.
	Name string
	// Path is the path of the node that was searched, "root" for the tree root.
	Path string
	// Remaining is the text that was left to consume at that node.
	Remaining string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("Parameter %q for %s does not exist, remaining message: %s", e.Name, e.Path, e.Remaining)
}
