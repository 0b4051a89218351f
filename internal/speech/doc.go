// Package speech covers the audio side of the exhibit: a fire-and-forget
// Speaker with a single "is playing" flag, a Listener producing recognized
// phrases with their confidence, and the phrases the kiosk says.
package speech
