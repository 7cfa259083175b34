package program

// Program is the immutable pair a run consumes.
type Program struct {
	Commands   []Command  `json:"commands"`
	Parameters Parameters `json:"parameters"`
}

// Builder accumulates the commands and parameters of one authoring session.
// It is not safe for concurrent use.
type Builder struct {
	commands []Command
	params   Parameters
}

// NewBuilder creates an empty builder with default parameters.
func NewBuilder() *Builder {
	return &Builder{}
}

// SetParameters parses and stores the three raw fields. Rejected fields are stored
// as zero; the returned error is informational.
func (b *Builder) SetParameters(speed, brightness, wait string) error {
	p, err := ParseParameters(speed, brightness, wait)
	b.params = p
	return err
}

// Parameters returns the current parameter set.
func (b *Builder) Parameters() Parameters {
	return b.params
}

// Append parses token and appends it. The DONE token reports done and is never
// stored; an unknown token returns an *InvalidCommandError and leaves the program
// unchanged.
func (b *Builder) Append(token string) (done bool, err error) {
	c, err := ParseCommand(token)
	if err != nil {
		return false, err
	}
	if c == Done {
		return true, nil
	}
	b.commands = append(b.commands, c)
	return false, nil
}

// Commands returns a copy of the program in insertion order.
func (b *Builder) Commands() []Command {
	out := make([]Command, len(b.commands))
	copy(out, b.commands)
	return out
}

// Len returns the number of authored commands.
func (b *Builder) Len() int {
	return len(b.commands)
}

// Reset discards commands and parameters.
func (b *Builder) Reset() {
	b.commands = nil
	b.params = Parameters{}
}

// Program snapshots the builder for a run.
func (b *Builder) Program() Program {
	return Program{Commands: b.Commands(), Parameters: b.params}
}
