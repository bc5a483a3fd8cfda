// Package stream reassembles a backend's out-of-order multi-chunk synthesis
// stream into one playable WAV unit. It pairs metadata and audio parts,
// re-times phrases onto a single timeline, walks RIFF sub-chunks to locate
// PCM data, and rewrites the container header for the merged payload.
package stream
