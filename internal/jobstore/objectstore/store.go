// Package objectstore is the production jobstore.Store: job records
// live as JSON objects in an S3-compatible bucket,
// and the advisory lease plus the scheduler watermark are kept in
// DynamoDB, whose conditional writes give the mutual exclusion and
// atomic-commit properties S3 alone cannot.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"github.com/riverlane/fhirjob/internal/domain"
	"github.com/riverlane/fhirjob/internal/errs"
)

const (
	leaseKey       = "lease"
	watermarkKey   = "watermark"
	conditionFail  = "ConditionalCheckFailedException"
	defaultLeaseTS = "leaseExpiresAt"
)

// S3API is the subset of *s3.Client the store depends on, so tests can
// inject a fake.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// DynamoDBAPI is the subset of *dynamodb.Client the store depends on.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store is a S3 + DynamoDB jobstore.Store.
type Store struct {
	s3         S3API
	ddb        DynamoDBAPI
	bucket     string
	prefix     string
	leaseTable string
	leaseTTL   time.Duration
}

// Config configures New.
type Config struct {
	Region     string
	Bucket     string
	Prefix     string
	LeaseTable string
	LeaseTTL   time.Duration
}

// New constructs a Store using the default AWS credential chain,
// auto-detecting the region from EC2 instance metadata when cfg.Region
// is empty.
func New(ctx context.Context, cfg Config) (*Store, error) {
	region := cfg.Region
	if region == "" {
		detected, err := detectEC2Region(ctx)
		if err != nil {
			region = "us-east-1"
		} else {
			region = detected
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS configuration: %w", err)
	}

	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return NewWithClients(s3.NewFromConfig(awsCfg), dynamodb.NewFromConfig(awsCfg), cfg, ttl), nil
}

// NewWithClients constructs a Store from injected clients, for tests.
func NewWithClients(s3Client S3API, ddbClient DynamoDBAPI, cfg Config, leaseTTL time.Duration) *Store {
	return &Store{
		s3:         s3Client,
		ddb:        ddbClient,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		leaseTable: cfg.LeaseTable,
		leaseTTL:   leaseTTL,
	}
}

func detectEC2Region(ctx context.Context) (string, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load AWS config: %w", err)
	}
	client := imds.NewFromConfig(cfg)
	result, err := client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", fmt.Errorf("get region from EC2 metadata: %w", err)
	}
	return result.Region, nil
}

func (s *Store) key(parts ...string) string {
	key := s.prefix
	for _, p := range parts {
		if key != "" {
			key += "/"
		}
		key += p
	}
	return key
}

func isConditionalCheckFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == conditionFail
	}
	return false
}

func (s *Store) putJSON(ctx context.Context, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", errs.ErrStoreUnavailable, key, err)
	}
	_, err = s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", errs.ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		var nf *s3types.NoSuchKey
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("%w: get %s: %v", errs.ErrStoreUnavailable, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %v", errs.ErrStoreUnavailable, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", errs.ErrStoreUnavailable, key, err)
	}
	return true, nil
}

func (s *Store) deleteObject(ctx context.Context, key string) error {
	_, err := s.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", errs.ErrStoreUnavailable, key, err)
	}
	return nil
}

// AcquireLease performs a conditional PutItem: succeeds if no lease
// item exists, or the existing one has expired.
func (s *Store) AcquireLease(ctx context.Context, ownerID string) (bool, error) {
	now := time.Now()
	expires := now.Add(s.leaseTTL)

	_, err := s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.leaseTable),
		Item: map[string]types.AttributeValue{
			"pk":           &types.AttributeValueMemberS{Value: leaseKey},
			"ownerId":      &types.AttributeValueMemberS{Value: ownerID},
			defaultLeaseTS: &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expires.Unix())},
		},
		ConditionExpression: aws.String(
			"attribute_not_exists(pk) OR ownerId = :owner OR leaseExpiresAt < :now",
		),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: ownerID},
			":now":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: acquire lease: %v", errs.ErrStoreUnavailable, err)
	}
	return true, nil
}

// ReleaseLease deletes the lease item conditioned on ownerID still
// holding it; a failed condition (already released, or held by
// someone else) is not an error.
func (s *Store) ReleaseLease(ctx context.Context, ownerID string) error {
	_, err := s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.leaseTable),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: leaseKey},
		},
		ConditionExpression: aws.String("ownerId = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: ownerID},
		},
	})
	if err != nil && !isConditionalCheckFailed(err) {
		return fmt.Errorf("%w: release lease: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// GetSchedulerMetadata reads the watermark item from DynamoDB, the same
// item CommitJobData writes, so there is exactly one watermark-of-record
// rather than a second, uncoordinated copy in S3.
func (s *Store) GetSchedulerMetadata(ctx context.Context) (*domain.SchedulerMetadata, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.leaseTable),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: watermarkKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get scheduler metadata: %v", errs.ErrStoreUnavailable, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	tsAttr, ok := out.Item["timestamp"].(*types.AttributeValueMemberN)
	if !ok {
		return nil, fmt.Errorf("%w: get scheduler metadata: watermark item missing timestamp", errs.ErrStoreUnavailable)
	}
	seconds, err := strconv.ParseInt(tsAttr.Value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: get scheduler metadata: %v", errs.ErrStoreUnavailable, err)
	}

	ts := time.Unix(seconds, 0).UTC()
	return &domain.SchedulerMetadata{SchemaVersion: 1, LastScheduledTimestamp: &ts}, nil
}

// GetActiveJobs lists objects under active/ and decodes each.
func (s *Store) GetActiveJobs(ctx context.Context) ([]*domain.Job, error) {
	out, err := s.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key("active/")),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list active jobs: %v", errs.ErrStoreUnavailable, err)
	}

	var jobs []*domain.Job
	for _, obj := range out.Contents {
		var job domain.Job
		key := *obj.Key
		if s.prefix != "" {
			key = key[len(s.prefix)+1:]
		}
		if _, err := s.getJSON(ctx, key, &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// UpdateJob writes a full snapshot to active/<id>.json.
func (s *Store) UpdateJob(ctx context.Context, job *domain.Job) error {
	return s.putJSON(ctx, "active/"+job.Id+".json", job)
}

// CompleteJob writes job into completed/ or failed/ then removes the
// active record. Deleting an already-absent active object is not an
// error in S3, so the operation is naturally idempotent.
func (s *Store) CompleteJob(ctx context.Context, job *domain.Job) error {
	dest := "completed/" + job.Id + ".json"
	if job.Status == domain.StatusFailed {
		dest = "failed/" + job.Id + ".json"
	}
	if err := s.putJSON(ctx, dest, job); err != nil {
		return err
	}
	return s.deleteObject(ctx, "active/"+job.Id+".json")
}

// CommitJobData writes the job's final snapshot to S3, then advances
// the watermark item in DynamoDB via TransactWriteItems. DynamoDB is the
// sole watermark-of-record (GetSchedulerMetadata reads this same item);
// there is no second, uncoordinated copy of the watermark in S3 to drift
// out of sync with it.
//
// The S3 snapshot put and the DynamoDB watermark advance are still two
// separate writes to two separate systems, not one cross-store
// transaction: a crash between them leaves the job snapshot updated
// without the watermark yet advanced. That is safe to retry, because
// jobmanager only flips a job to Succeeded, persists that, and archives
// it via CompleteJob after CommitJobData returns successfully, and this
// method is idempotent against a retry with the same job.
func (s *Store) CommitJobData(ctx context.Context, job *domain.Job) error {
	if err := s.putJSON(ctx, "active/"+job.Id+".json", job); err != nil {
		return err
	}

	watermark := job.DataPeriod.End.Unix()
	_, err := s.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName: aws.String(s.leaseTable),
					Item: map[string]types.AttributeValue{
						"pk":        &types.AttributeValueMemberS{Value: watermarkKey},
						"timestamp": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", watermark)},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: commit job data: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}
