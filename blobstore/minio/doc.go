// Package minio provides a blobstore.Store backed by MinIO or any other
// S3-compatible service (Ceph, Garage, SeaweedFS).
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "segments", "region-a/")
//	journal := sink.NewBlob(store, "wal")
package minio
