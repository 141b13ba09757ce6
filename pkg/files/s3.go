// Package files gives the backend its view into object storage: the
// buckets a project uploaded data into, the files inside them, and the
// read policy SD Submit needs before it can serve the data onwards.
package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/CSCfi/sd-submit/pkg/config"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
)

// FileInfo is one object in a bucket.
type FileInfo struct {
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Checksum string `json:"checksum,omitempty"`
}

// FileProvider is the object-storage capability the orchestrator and the
// bucket handlers consume.
type FileProvider interface {
	// ListBuckets lists the buckets visible to the project credentials.
	ListBuckets(ctx context.Context) ([]string, error)
	// ListFiles lists the objects in a bucket.
	ListFiles(ctx context.Context, bucket string) ([]FileInfo, error)
	// GrantReadPolicy attaches the policy that lets SD Submit read the bucket.
	GrantReadPolicy(ctx context.Context, bucket string) error
	// HasReadPolicy reports whether the read policy is already attached.
	HasReadPolicy(ctx context.Context, bucket string) (bool, error)
}

// policySid identifies the statement SD Submit manages on a bucket.
const policySid = "SDSubmitRead"

// S3Provider implements FileProvider against an S3-compatible endpoint
// (Allas in production).
type S3Provider struct {
	client  *s3.Client
	project string
}

// NewS3 builds the provider from static credentials.
func NewS3(ctx context.Context, cfg config.S3Config) (*S3Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, apperrors.NewConfigError("loading S3 configuration", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Provider{client: client, project: cfg.ProjectID}, nil
}

// ListBuckets lists the buckets visible to the configured credentials.
func (p *S3Provider) ListBuckets(ctx context.Context) ([]string, error) {
	out, err := p.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, mapS3Error("listing buckets", err)
	}

	names := make([]string, 0, len(out.Buckets))
	for _, bucket := range out.Buckets {
		names = append(names, aws.ToString(bucket.Name))
	}
	return names, nil
}

// ListFiles lists every object in the bucket.
func (p *S3Provider) ListFiles(ctx context.Context, bucket string) ([]FileInfo, error) {
	var files []FileInfo

	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapS3Error(fmt.Sprintf("listing bucket %q", bucket), err)
		}
		for _, object := range page.Contents {
			files = append(files, FileInfo{
				Path:     aws.ToString(object.Key),
				Bytes:    aws.ToInt64(object.Size),
				Checksum: strings.Trim(aws.ToString(object.ETag), `"`),
			})
		}
	}
	return files, nil
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string   `json:"Sid,omitempty"`
	Effect    string   `json:"Effect"`
	Principal any      `json:"Principal"`
	Action    []string `json:"Action"`
	Resource  []string `json:"Resource"`
}

// GrantReadPolicy attaches the read statement for the SD Submit service
// project to the bucket.
func (p *S3Provider) GrantReadPolicy(ctx context.Context, bucket string) error {
	policy := bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:       policySid,
			Effect:    "Allow",
			Principal: map[string][]string{"AWS": {"arn:aws:iam:::user/" + p.project}},
			Action:    []string{"s3:GetObject", "s3:ListBucket"},
			Resource: []string{
				"arn:aws:s3:::" + bucket,
				"arn:aws:s3:::" + bucket + "/*",
			},
		}},
	}

	encoded, err := json.Marshal(policy)
	if err != nil {
		return apperrors.NewInternalError("encoding bucket policy", err)
	}

	_, err = p.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(bucket),
		Policy: aws.String(string(encoded)),
	})
	if err != nil {
		return mapS3Error(fmt.Sprintf("granting read policy on bucket %q", bucket), err)
	}
	return nil
}

// HasReadPolicy reports whether the bucket already carries the SD Submit
// read statement.
func (p *S3Provider) HasReadPolicy(ctx context.Context, bucket string) (bool, error) {
	out, err := p.client.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucketPolicy" {
			return false, nil
		}
		return false, mapS3Error(fmt.Sprintf("reading policy of bucket %q", bucket), err)
	}

	var policy bucketPolicy
	if err := json.Unmarshal([]byte(aws.ToString(out.Policy)), &policy); err != nil {
		return false, apperrors.NewUpstreamServerError("malformed bucket policy", err)
	}
	for _, statement := range policy.Statement {
		if statement.Sid == policySid {
			return true, nil
		}
	}
	return false, nil
}

// mapS3Error folds S3 failures into the application error taxonomy.
func mapS3Error(operation string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NotFound":
			return apperrors.NewNotFoundError(operation+": bucket not found", err)
		case "AccessDenied":
			return apperrors.NewUserError(operation+": access denied", err)
		}
	}
	return apperrors.NewUpstreamServerError(operation+" failed", err)
}
