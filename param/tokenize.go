package param

import "strings"

type opKind int

const (
	opToggle opKind = iota
	opSet
	opGet
)

func (op opKind) String() string {
	switch op {
	case opSet:
		return "set"
	case opGet:
		return "get"
	default:
		return "toggle"
	}
}

// step descends from one node into its child.
type step struct {
	name    string
	info    string
	hasInfo bool
	// text is what the parent node was asked to consume.
	text string
	// rest is what is handed to the child.
	rest string
}

// command is a parsed message: the path to walk and the operation to apply
// at its end. text is the trimmed message the root consumes.
type command struct {
	text  string
	steps []step
	op    opKind
}

func indexOr(s string, c byte, def int) int {
	if i := strings.IndexByte(s, c); i >= 0 {
		return i
	}

	return def
}

// parse splits message into descend steps. Parsing stops at the first '='
// or '?': the text after it belongs to the target node as value or remainder.
func parse(message string) command {
	text := strings.TrimSpace(message)
	cmd := command{text: text, op: opToggle}

	for text != "" && cmd.op == opToggle {
		n := len(text)
		end := indexOr(text, ':', n)
		set := indexOr(text, '=', n)
		get := indexOr(text, '?', n)

		switch {
		case set < end && set < get:
			cmd.op, end = opSet, set
		case get < end && get < set:
			cmd.op, end = opGet, get
		}

		st := step{text: text}
		nameEnd := end
		if dash := strings.IndexByte(text, '-'); dash >= 0 && dash < end {
			st.info, st.hasInfo = text[dash+1:end], true
			nameEnd = dash
		}
		st.name = strings.ReplaceAll(text[:nameEnd], " ", "")

		rest := ""
		if end < n {
			rest = text[end+1:]
		}
		text = strings.TrimSpace(rest)
		st.rest = text

		cmd.steps = append(cmd.steps, st)
	}

	return cmd
}
