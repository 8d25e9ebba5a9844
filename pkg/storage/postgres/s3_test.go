package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucketAPI struct {
	headErr   error
	createErr error
	created   []string
}

func (f *fakeBucketAPI) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeBucketAPI) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = append(f.created, aws.ToString(params.Bucket))
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &s3.CreateBucketOutput{}, nil
}

func TestEnsureBucket(t *testing.T) {
	notFound := &types.NotFound{}

	tests := []struct {
		name        string
		api         *fakeBucketAPI
		wantCreated int
		wantErr     bool
	}{
		{"exists", &fakeBucketAPI{}, 0, false},
		{"missing", &fakeBucketAPI{headErr: notFound}, 1, false},
		{"created concurrently", &fakeBucketAPI{headErr: notFound, createErr: &types.BucketAlreadyOwnedByYou{}}, 1, false},
		{"create fails", &fakeBucketAPI{headErr: notFound, createErr: errors.New("access denied")}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EnsureBucket(context.Background(), tt.api, "audit")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "audit")
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, tt.api.created, tt.wantCreated)
		})
	}
}

func TestNewS3Client_StaticCredentials(t *testing.T) {
	client, err := NewS3Client(context.Background(), ObjectStoreConfig{
		Bucket:       "audit",
		Region:       "us-east-1",
		Endpoint:     "http://127.0.0.1:9000",
		AccessKey:    "key",
		SecretKey:    "secret",
		UsePathStyle: true,
	})
	require.NoError(t, err)

	opts := client.Options()
	assert.Equal(t, "us-east-1", opts.Region)
	assert.True(t, opts.UsePathStyle)
	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(opts.BaseEndpoint))

	creds, err := opts.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key", creds.AccessKeyID)
}
