// Package conversation models the ordered turn history of a chat session.
//
// Invariants:
// - Turns are append-only and kept in chronological order.
// - Only user turns may carry an ImageSet; assistant turns are plain text.
// - A Conversation hands out copies, so appended turns cannot be mutated by callers.
//
// Usage:
//
//	c := conversation.New()
//	_ = c.Append(conversation.NewUserTurn("hello"), conversation.NewAssistantTurn("hi!"))
//	for _, t := range c.Turns() {
//		_ = t
//	}
package conversation
