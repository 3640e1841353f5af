// Package blobstore abstracts the object storage that durable chunk segments
// are shipped to.
//
// Objects are write-once: a name is written by a single Put and never
// modified afterwards. Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, for tests and single-node setups
//   - s3.Store: Amazon S3 via the AWS SDK upload manager
//   - minio.Store: MinIO and other S3-compatible services
package blobstore
