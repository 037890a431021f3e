package domain

// Param describes one input field of a tool. Type is a JSON Schema type name;
// an empty Type accepts any JSON value.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     any
	Enum        []string
	Items       string // element type when Type is "array"
}

// ToolDescriptor is one entry of the static tool table exposed to callers.
type ToolDescriptor struct {
	Name        string
	Description string
	// Action is the tag forwarded to the backend script. Tools with an empty
	// Action are answered in-process and never spawn a subprocess.
	Action string
	Params []Param
	// AnyOf lists alternative sets of fields of which at least one set must be present.
	AnyOf [][]string
}

// Forwarded reports whether calls to the tool go to the backend script.
func (d ToolDescriptor) Forwarded() bool { return d.Action != "" }

// Param returns the named parameter.
func (d ToolDescriptor) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}
