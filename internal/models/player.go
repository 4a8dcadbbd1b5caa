package models

// Player is one draft participant. The ID is an opaque identifier issued
// by the chat platform; the display name is denormalized at draft creation
// and immutable for the draft's lifetime.
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}
