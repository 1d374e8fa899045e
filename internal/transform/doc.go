// Package transform defines the pipeline-side client interface for file
// rewriters. The runner calls a transform.Client with a timeout and retries,
// whether the rewrite happens in process or on a remote typeinject server.
package transform
