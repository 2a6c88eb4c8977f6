// Package s3 opens AWS S3 buckets with temporary credentials.
package s3

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/relvacode/iso8601"
	"gocloud.dev/blob"
	"gocloud.dev/blob/s3blob"
)

const Provider = "aws"

//nolint:tagliatelle
type Credentials struct {
	AccessKeyID     string       `json:"AccessKeyId"`
	SecretAccessKey string       `json:"SecretAccessKey"`
	SessionToken    string       `json:"SessionToken"`
	Expiration      iso8601.Time `json:"Expiration"`
}

type Params struct {
	Bucket      string                       `json:"bucket"`
	Region      string                       `json:"region"`
	Credentials Credentials                  `json:"credentials"`
	ACL         s3types.ObjectCannedACL      `json:"acl"`
	Encryption  s3types.ServerSideEncryption `json:"x-amz-server-side-encryption"`
}

// OpenBucket opens the bucket, the transport is optional.
// A custom transport cannot be combined with the AWS_CA_BUNDLE environment variable.
func OpenBucket(ctx context.Context, params *Params, transport http.RoundTripper) (*blob.Bucket, error) {
	if exp := params.Credentials.Expiration; !exp.IsZero() && exp.Before(time.Now()) {
		return nil, fmt.Errorf(`credentials of the bucket "%s" expired at %s`, params.Bucket, exp.Format(time.RFC3339))
	}

	cred := config.WithCredentialsProvider(
		credentials.NewStaticCredentialsProvider(
			params.Credentials.AccessKeyID,
			params.Credentials.SecretAccessKey,
			params.Credentials.SessionToken,
		),
	)
	var cfg aws.Config
	var err error
	if transport != nil {
		cfg, err = config.LoadDefaultConfig(ctx, cred, config.WithRegion(params.Region), config.WithHTTPClient(&http.Client{Transport: transport}))
	} else {
		cfg, err = config.LoadDefaultConfig(ctx, cred, config.WithRegion(params.Region))
	}
	if err != nil {
		return nil, err
	}

	return s3blob.OpenBucketV2(ctx, s3.NewFromConfig(cfg), params.Bucket, nil)
}

// WriterOptions applies ACL and encryption to each written object.
func WriterOptions(params *Params) *blob.WriterOptions {
	return &blob.WriterOptions{
		BeforeWrite: func(as func(any) bool) error {
			var req *s3.PutObjectInput
			if as(&req) {
				req.ACL = params.ACL
				req.ServerSideEncryption = params.Encryption
			}
			return nil
		},
		// 5MB is the minimal part size of a multipart upload
		BufferSize: int(manager.MinUploadPartSize),
	}
}

func ObjectURL(params *Params, key string) string {
	return fmt.Sprintf("s3://%s/%s", params.Bucket, key)
}
