// Package model sends a conversation to a hosted multimodal model and returns its reply.
//
// Invariants:
// - One synchronous call per Respond; no retries and no streaming.
// - History is flattened to role-tagged text blocks; images travel only on the final user block.
// - The final block always puts its text first, followed by any images.
//
// Usage:
//
//	provider, _ := model.NewProvider(ctx, model.ProviderConfig{Name: model.ProviderBedrock, Region: "us-east-1"})
//	client, _ := model.NewClient(model.ClientConfig{Provider: provider, Options: model.DefaultOptions()})
//	reply, _ := client.Respond(ctx, "What is in this picture?", history, images)
//	_ = reply
package model
