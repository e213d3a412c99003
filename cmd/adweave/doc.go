// Command adweave inserts a synthesized digital-human ad clip into a
// narrated video. It transcribes the host video, asks a language model for
// natural insertion points, stages the keyframe and reference audio, drives
// the remote generative chain, and splices the result back together.
package main
