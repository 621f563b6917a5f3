package s3

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
)

func TestApplyChecksum(t *testing.T) {
	input := &s3.PutObjectInput{}
	DefaultUploadConfig().applyChecksum(input)
	assert.Equal(t, types.ChecksumAlgorithmCrc32c, input.ChecksumAlgorithm)

	input = &s3.PutObjectInput{}
	UploadConfig{}.applyChecksum(input)
	assert.Empty(t, input.ChecksumAlgorithm)
}

func TestDefaultUploadConfig(t *testing.T) {
	cfg := DefaultUploadConfig()
	assert.Equal(t, int64(8*1024*1024), cfg.PartSize)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.True(t, cfg.EnableChecksum)
	assert.False(t, cfg.LeavePartsOnError)
}
