package conversation

// Conversation is an ordered, append-only sequence of turns.
// It is not safe for concurrent use; callers serialize access.
type Conversation struct {
	turns []Turn
}

// New creates a conversation. Initial turns are trusted and copied as-is,
// which is how stores rebuild history they already validated.
func New(turns ...Turn) *Conversation {
	c := &Conversation{turns: make([]Turn, 0, len(turns))}
	for _, t := range turns {
		c.turns = append(c.turns, t.Clone())
	}
	return c
}

// Append validates and appends turns. Either all turns are appended or none.
func (c *Conversation) Append(turns ...Turn) error {
	for _, t := range turns {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	for _, t := range turns {
		c.turns = append(c.turns, t.Clone())
	}
	return nil
}

// Turns returns a copy of the turns in chronological order
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	for i, t := range c.turns {
		out[i] = t.Clone()
	}
	return out
}

// Len returns the number of turns
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Last returns the most recent turn, if any
func (c *Conversation) Last() (Turn, bool) {
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1].Clone(), true
}

// Clear removes all turns
func (c *Conversation) Clear() {
	c.turns = nil
}

// Clone returns an independent copy of the conversation
func (c *Conversation) Clone() *Conversation {
	return New(c.turns...)
}
