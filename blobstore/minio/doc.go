// Package minio implements blobstore.BlobStore on MinIO and any
// S3-compatible object storage reachable through the MinIO client.
package minio
