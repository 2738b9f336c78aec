// Package llm contains adapters for invoking large language models during
// the research and strategy stages. It abstracts away provider-specific
// APIs and normalizes request/response lifecycles for the pipeline.
package llm
