// Package resource bounds the process-wide resources shared by chunk pools
// and durable sinks: chunk memory, concurrent uploads and sink IO throughput.
//
// A nil *Controller is valid and imposes no limits.
package resource
