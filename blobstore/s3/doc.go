// Package s3 implements blobstore.BlobStore on Amazon S3.
//
// Streaming writes use multipart uploads through the AWS upload manager;
// see UploadConfig for tuning.
package s3
