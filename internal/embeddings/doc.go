// Package embeddings turns text into vectors for the document index.
//
// Three providers are available:
//   - openai: the OpenAI embeddings API through langchaingo
//   - tei: a Text Embeddings Inference server through its OpenAI-compatible route
//   - fastembed: local ONNX models (requires a cgo build and the ONNX runtime)
//
// NewProvider selects one from configuration. Every provider is wrapped with
// OpenTelemetry metrics for generation latency, batch size and errors.
package embeddings
