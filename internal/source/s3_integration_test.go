//go:build integration

package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	minioAccessKey = "minioadmin"
	minioSecretKey = "minioadmin"
)

func startMinio(t *testing.T, ctx context.Context) string {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioAccessKey,
				"MINIO_ROOT_PASSWORD": minioSecretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestS3AndBlobSourcesAgainstMinio(t *testing.T) {
	ctx := context.Background()
	endpoint := startMinio(t, ctx)

	client, err := NewS3Client(ctx, S3Options{
		Region:    "us-east-1",
		Endpoint:  "http://" + endpoint,
		PathStyle: true,
		AccessKey: minioAccessKey,
		SecretKey: minioSecretKey,
	})
	require.NoError(t, err)

	data := make([]byte, 256*1024)
	for i := range data {
		data[i] = byte(i % 251)
	}
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("ranger")})
	require.NoError(t, err)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String("ranger"),
		Key:    aws.String("objects/data.bin"),
		Body:   bytes.NewReader(data),
	})
	require.NoError(t, err)

	s3src, err := OpenS3(ctx, client, "data", "ranger", "objects/data.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), s3src.Size())

	r, err := s3src.OpenRange(ctx, 1000, 1999)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, data[1000:2000], got)

	_, err = OpenS3(ctx, client, "missing", "ranger", "objects/missing.bin")
	assert.ErrorIs(t, err, ErrNotFound)

	t.Setenv("AWS_ACCESS_KEY_ID", minioAccessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioSecretKey)
	bucketURL := fmt.Sprintf("s3://ranger?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1", endpoint)
	blobsrc, err := OpenBlob(ctx, "data", bucketURL, "objects/data.bin", "")
	require.NoError(t, err)
	defer blobsrc.Close()

	r, err = blobsrc.OpenRange(ctx, int64(len(data))-10, int64(len(data))-1)
	require.NoError(t, err)
	got, err = io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, data[len(data)-10:], got)
}
