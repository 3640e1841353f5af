// Package s3 provides an Amazon S3 implementation of blobstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("segments/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
// Uploads go through the SDK upload manager, so large segment objects are
// sent as concurrent multipart uploads.
package s3
