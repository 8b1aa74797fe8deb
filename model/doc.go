// Package model defines the provider‑agnostic boundary between leaf agents
// and language models.
//
// A Model turns one Request (system instruction, ordered contents, tool
// declarations, optional output schema) into one Response. Providers
// (model/openai, model/anthropic) implement Model so agents and flows stay
// decoupled from vendor SDKs. MockModel and ScriptedModel serve tests and
// examples; NewRateLimitedModel throttles any Model with a token bucket.
package model
