package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config locates the bucket.
type S3Config struct {
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

// S3 stores one JSON artifact object per plan. Lineage is reconstructed
// from the parent pointer in each artifact.
type S3 struct {
	client S3API
	bucket string
	prefix string

	mu     sync.RWMutex
	closed bool
}

// NewS3 wraps an existing client.
func NewS3(client S3API, bucket, prefix string) (*S3, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// OpenS3 builds a client from the default AWS credential chain.
func OpenS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewS3(client, cfg.Bucket, cfg.Prefix)
}

func (s *S3) key(id string) string {
	return path.Join(s.prefix, "plans", id+".json")
}

func (s *S3) listPrefix() string {
	return path.Join(s.prefix, "plans") + "/"
}

func (s *S3) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *S3) has(ctx context.Context, id string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(id))})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", id, err)
}

// Save implements Store. Existence checks are not atomic with the write;
// concurrent saves of the same id are last-writer-wins.
func (s *S3) Save(ctx context.Context, p plan.PlannerPlan) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if p.Metadata.PlanID == "" {
		return ErrInvalidPlan
	}
	if ok, err := s.has(ctx, p.Metadata.PlanID); err != nil {
		return err
	} else if ok {
		return ErrExists
	}
	if parent := p.Metadata.ParentPlanID; parent != "" {
		ok, err := s.has(ctx, parent)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMissingParent
		}
	}

	data, err := plan.MarshalArtifact(p)
	if err != nil {
		return err
	}
	meta := map[string]string{"planning-id": p.Metadata.PlanningID}
	if p.Metadata.ParentPlanID != "" {
		meta["parent-plan-id"] = p.Metadata.ParentPlanID
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(p.Metadata.PlanID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", p.Metadata.PlanID, err)
	}
	return nil
}

// GetArtifact implements Store.
func (s *S3) GetArtifact(ctx context.Context, id string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(id))})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return data, nil
}

// Get implements Store.
func (s *S3) Get(ctx context.Context, id string) (plan.PlannerPlan, error) {
	data, err := s.GetArtifact(ctx, id)
	if err != nil {
		return plan.PlannerPlan{}, err
	}
	return plan.UnmarshalArtifact(data)
}

// Audit implements Store from the artifact's audit section.
func (s *S3) Audit(ctx context.Context, id string) ([]plan.StageRecord, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Audit, nil
}

// Lineage implements Store.
func (s *S3) Lineage(ctx context.Context, id string) ([]Summary, error) {
	return walkLineage(ctx, id, s.Get)
}

// List implements Store. Every artifact under the prefix is read.
func (s *S3) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var (
		out   []Summary
		token *string
	)
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.listPrefix()),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list plans: %w", err)
		}
		for _, obj := range page.Contents {
			id := strings.TrimSuffix(path.Base(aws.ToString(obj.Key)), ".json")
			p, err := s.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if sum := Summarize(p); matches(sum, opts) {
				out = append(out, sum)
			}
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		token = page.NextContinuationToken
	}
	return sortAndLimit(out, opts), nil
}

// Close implements Store.
func (s *S3) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound")
}
