// Package media validates source URLs and drives the external extraction and
// transcoding tools behind the streaming endpoints.
//
// The two retrieval paths differ deliberately. The video path relays the
// extractor's standard output to the client in fixed-size chunks, so the
// first byte reaches the client before the source file is fully fetched. The
// audio path must land the complete video in a private working directory
// first, because the transcoder requires a seekable input; the finished audio
// file is then streamed with a known length.
//
// Every retrieval owns a Task bundling its subprocess handles and working
// directory. Cleanup is idempotent and runs on every terminal transition:
// completion, failure, timeout, and client disconnect.
package media
