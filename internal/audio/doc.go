// Package audio plays assembled WAV audio through the system output device
// using the oto/v3 library.
package audio
