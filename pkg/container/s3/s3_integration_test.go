//go:build integration
// +build integration

package s3

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/nexusformat/nxtree/pkg/container"
	containertesting "github.com/nexusformat/nxtree/pkg/container/testing"
)

// TestS3Store_Integration runs the complete container.Store conformance
// suite against a real S3-compatible service (Localstack or MinIO).
//
// Prerequisites:
//   - Localstack running on localhost:4566 (or set LOCALSTACK_ENDPOINT)
//   - Run with: go test -tags=integration ./pkg/container/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3Store_Integration(t *testing.T) {
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	client, err := NewClient(ctx, ClientConfig{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true, // Required for Localstack
	})
	require.NoError(t, err)

	bucket := "nxtree-test-bucket"
	_, err = client.CreateBucket(ctx, &awss3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		t.Skipf("S3-compatible service not reachable at %s: %v", endpoint, err)
	}

	// Each suite run gets its own key prefix so containers never collide.
	nextPrefix := func() string {
		return fmt.Sprintf("run-%d/", time.Now().UnixNano())
	}

	prefixes := map[container.Store]string{}

	suite := &containertesting.StoreTestSuite{
		NewStore: func(t *testing.T) container.Store {
			prefix := nextPrefix()
			store, err := Open(ctx, container.Create, Config{
				Client:    client,
				Bucket:    bucket,
				KeyPrefix: prefix,
			})
			require.NoError(t, err)
			prefixes[store] = prefix
			t.Cleanup(func() { store.Close(context.Background()) })
			return store
		},
		Reopen: func(t *testing.T, s container.Store) container.Store {
			prefix := prefixes[s]
			require.NoError(t, s.Close(context.Background()))
			reopened, err := Open(ctx, container.ReadWrite, Config{
				Client:    client,
				Bucket:    bucket,
				KeyPrefix: prefix,
			})
			require.NoError(t, err)
			prefixes[reopened] = prefix
			t.Cleanup(func() { reopened.Close(context.Background()) })
			return reopened
		},
	}
	suite.Run(t)
}
