package inject

// State is the position of one function in the transformation pipeline.
//
//	Untransformed -> Parsed -> Spliced -> Compiled -> Bound
//
// Any stage may end in Failed instead. Both Bound and Failed are terminal.
type State int

const (
	Untransformed State = iota
	Parsed
	Spliced
	Compiled
	Bound
	Failed
)

var stateNames = [...]string{
	Untransformed: "untransformed",
	Parsed:        "parsed",
	Spliced:       "spliced",
	Compiled:      "compiled",
	Bound:         "bound",
	Failed:        "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Bound || s == Failed }

// step names the work that leads into s.
func (s State) step() string {
	switch s {
	case Parsed:
		return "parse"
	case Spliced:
		return "splice"
	case Compiled:
		return "compile"
	case Bound:
		return "bind"
	}
	return s.String()
}
