// Package chat implements the user-facing chat actions on top of the session
// manager and the model client.
//
// Invariants:
// - The session name travels with every action; there is no hidden "current" session.
// - A submit appends the user and assistant turns together, only after the model replied.
// - Submits to the same session are serialized, so turns keep alternating.
//
// Usage:
//
//	svc, _ := chat.NewService(chat.Config{Sessions: mgr, Model: client})
//	_, _ = svc.Create(ctx, "demo")
//	res, _ := svc.Submit(ctx, chat.SubmitParams{Session: "demo", Prompt: "hello"})
//	_ = res.Assistant.Text
package chat
