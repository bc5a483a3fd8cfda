// Package tts holds the synthesis request model, its validation rules and
// the tagged error type shared by the backend client, the cache and the
// orchestrator.
package tts
