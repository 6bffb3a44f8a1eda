// Package session persists named chat sessions and their turn history.
//
// Invariants:
// - Session names are trimmed, unique and never the reserved "New Session" label.
// - The full name→session mapping is written on every mutation.
// - Assistant turns never carry images, in memory or on disk.
// - A failed save leaves the in-memory state ahead of the store.
//
// Usage:
//
//	store, _ := session.NewStore(session.StoreConfig{Backend: session.BackendJSON, Path: "/tmp/multichat/sessions.json"})
//	mgr, _ := session.NewManager(ctx, session.ManagerConfig{Store: store})
//	_, _ = mgr.Create(ctx, "demo")
//	_ = mgr.Append(ctx, "demo", conversation.NewUserTurn("hello"), conversation.NewAssistantTurn("hi!"))
package session
