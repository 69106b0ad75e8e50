// Package awss3 manages object_storage resources on AWS as real S3 buckets.
package awss3

import (
	"context"
	"errors"
	"fmt"
	"sort"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers/aws"
)

// API is the subset of the S3 client the driver uses.
type API interface {
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	DeleteBucket(ctx context.Context, in *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
	PutBucketVersioning(ctx context.Context, in *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	PutPublicAccessBlock(ctx context.Context, in *s3.PutPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error)
	PutBucketTagging(ctx context.Context, in *s3.PutBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error)
	PutBucketEncryption(ctx context.Context, in *s3.PutBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, in *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
	DeleteBucketLifecycle(ctx context.Context, in *s3.DeleteBucketLifecycleInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketLifecycleOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options configures the S3 client.
type Options struct {
	// Region is the default region, used when a spec carries none.
	Region string

	// Endpoint overrides the S3 endpoint, for S3-compatible services.
	Endpoint string

	// Profile selects a shared config profile.
	Profile string

	// AccessKeyID and SecretAccessKey set static credentials when both are given.
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
}

// Driver creates, updates and deletes S3 buckets.
type Driver struct {
	client API
	region string
}

// New loads the AWS configuration and creates a driver.
func New(ctx context.Context, opts Options) (*Driver, error) {
	var loaders []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loaders = append(loaders, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = awssdk.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewWithClient(client, cfg.Region), nil
}

// NewWithClient creates a driver on an existing client.
func NewWithClient(client API, region string) *Driver {
	return &Driver{client: client, region: region}
}

type bucket struct {
	name           string
	region         string
	versioning     bool
	blockPublic    bool
	expirationDays int
	forceDestroy   bool
	encryption     string
	tags           map[string]string
}

func (d *Driver) bucketFrom(attrs map[string]interface{}, labels map[string]string) (bucket, error) {
	b := bucket{region: d.region, tags: labels}
	var ok bool
	if b.name, ok = attrs[aws.AttrBucket].(string); !ok || b.name == "" {
		return bucket{}, engine.NewProviderValidationError(string(engine.KindObjectStorage), aws.AttrBucket, "bucket name is required", nil)
	}
	if r, _ := attrs[aws.AttrRegion].(string); r != "" {
		b.region = r
	}
	b.versioning, _ = attrs[aws.AttrVersioning].(bool)
	b.blockPublic, _ = attrs[aws.AttrBlockPublicAccess].(bool)
	b.forceDestroy, _ = attrs[aws.AttrForceDestroy].(bool)
	b.encryption, _ = attrs[aws.AttrEncryption].(string)
	switch days := attrs[aws.AttrLifecycleDays].(type) {
	case int:
		b.expirationDays = days
	case float64:
		b.expirationDays = int(days)
	}
	return b, nil
}

func (d *Driver) regional(region string) func(*s3.Options) {
	return func(o *s3.Options) {
		if region != "" {
			o.Region = region
		}
	}
}

// Create implements engine.Driver. A bucket already owned by the caller is adopted.
func (d *Driver) Create(ctx context.Context, spec *engine.ResourceSpec) (*engine.ProviderResult, error) {
	b, err := d.bucketFrom(spec.Attributes, spec.Labels)
	if err != nil {
		return nil, err
	}

	in := &s3.CreateBucketInput{Bucket: awssdk.String(b.name)}
	if b.region != "" && b.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.region),
		}
	}
	if _, err := d.client.CreateBucket(ctx, in, d.regional(b.region)); err != nil && !isAlreadyOwned(err) {
		return nil, classify(spec.ID, "create bucket "+b.name, err)
	}
	if err := d.configure(ctx, spec.ID, b); err != nil {
		return nil, err
	}
	return result(b), nil
}

// Update implements engine.Driver. Bucket settings are converged in place.
func (d *Driver) Update(ctx context.Context, spec *engine.ResourceSpec, _ *engine.ResourceState) (*engine.ProviderResult, error) {
	b, err := d.bucketFrom(spec.Attributes, spec.Labels)
	if err != nil {
		return nil, err
	}
	if err := d.configure(ctx, spec.ID, b); err != nil {
		return nil, err
	}
	return result(b), nil
}

func (d *Driver) configure(ctx context.Context, id string, b bucket) error {
	name := awssdk.String(b.name)
	opt := d.regional(b.region)

	status := types.BucketVersioningStatusSuspended
	if b.versioning {
		status = types.BucketVersioningStatusEnabled
	}
	if _, err := d.client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket:                  name,
		VersioningConfiguration: &types.VersioningConfiguration{Status: status},
	}, opt); err != nil {
		return classify(id, "set versioning on "+b.name, err)
	}

	if _, err := d.client.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: name,
		PublicAccessBlockConfiguration: &types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       awssdk.Bool(b.blockPublic),
			BlockPublicPolicy:     awssdk.Bool(b.blockPublic),
			IgnorePublicAcls:      awssdk.Bool(b.blockPublic),
			RestrictPublicBuckets: awssdk.Bool(b.blockPublic),
		},
	}, opt); err != nil {
		return classify(id, "set public access block on "+b.name, err)
	}

	if b.encryption != "" {
		if _, err := d.client.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
			Bucket: name,
			ServerSideEncryptionConfiguration: &types.ServerSideEncryptionConfiguration{
				Rules: []types.ServerSideEncryptionRule{{
					ApplyServerSideEncryptionByDefault: &types.ServerSideEncryptionByDefault{
						SSEAlgorithm: types.ServerSideEncryption(b.encryption),
					},
				}},
			},
		}, opt); err != nil {
			return classify(id, "set encryption on "+b.name, err)
		}
	}

	if len(b.tags) > 0 {
		keys := make([]string, 0, len(b.tags))
		for k := range b.tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tagSet := make([]types.Tag, 0, len(keys))
		for _, k := range keys {
			tagSet = append(tagSet, types.Tag{Key: awssdk.String(k), Value: awssdk.String(b.tags[k])})
		}
		if _, err := d.client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
			Bucket:  name,
			Tagging: &types.Tagging{TagSet: tagSet},
		}, opt); err != nil {
			return classify(id, "tag "+b.name, err)
		}
	}

	if b.expirationDays > 0 {
		if _, err := d.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
			Bucket: name,
			LifecycleConfiguration: &types.BucketLifecycleConfiguration{
				Rules: []types.LifecycleRule{{
					ID:         awssdk.String("cloudplan-expiration"),
					Status:     types.ExpirationStatusEnabled,
					Filter:     &types.LifecycleRuleFilter{Prefix: awssdk.String("")},
					Expiration: &types.LifecycleExpiration{Days: awssdk.Int32(int32(b.expirationDays))},
				}},
			},
		}, opt); err != nil {
			return classify(id, "set lifecycle on "+b.name, err)
		}
	} else if _, err := d.client.DeleteBucketLifecycle(ctx, &s3.DeleteBucketLifecycleInput{Bucket: name}, opt); err != nil && !isNotFound(err) {
		return classify(id, "clear lifecycle on "+b.name, err)
	}
	return nil
}

// Delete implements engine.Driver. Buckets marked forceDestroy are emptied first.
func (d *Driver) Delete(ctx context.Context, prior *engine.ResourceState) error {
	b, err := d.bucketFrom(prior.Attributes, nil)
	if err != nil {
		return err
	}
	opt := d.regional(b.region)

	if b.forceDestroy {
		if err := d.empty(ctx, prior.ID, b, opt); err != nil {
			return err
		}
	}
	if _, err := d.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: awssdk.String(b.name)}, opt); err != nil {
		if isNotFound(err) {
			return nil
		}
		return classify(prior.ID, "delete bucket "+b.name, err)
	}
	return nil
}

func (d *Driver) empty(ctx context.Context, id string, b bucket, opt func(*s3.Options)) error {
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{Bucket: awssdk.String(b.name)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx, opt)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return classify(id, "list objects in "+b.name, err)
		}
		for _, obj := range page.Contents {
			if _, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: awssdk.String(b.name), Key: obj.Key}, opt); err != nil {
				return classify(id, "delete object "+awssdk.ToString(obj.Key), err)
			}
		}
	}
	return nil
}

// Read implements engine.Reader.
func (d *Driver) Read(ctx context.Context, prior *engine.ResourceState) (*engine.ResourceState, error) {
	b, err := d.bucketFrom(prior.Attributes, nil)
	if err != nil {
		return nil, err
	}
	if _, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: awssdk.String(b.name)}, d.regional(b.region)); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, classify(prior.ID, "head bucket "+b.name, err)
	}
	live := *prior
	live.Outputs = result(b).Outputs
	return &live, nil
}

func result(b bucket) *engine.ProviderResult {
	return &engine.ProviderResult{
		ProviderIDs: map[string]string{"id": "arn:aws:s3:::" + b.name},
		Outputs: map[string]string{
			"bucket":                      b.name,
			"bucket_regional_domain_name": fmt.Sprintf("%s.s3.%s.amazonaws.com", b.name, b.region),
			"region":                      b.region,
		},
	}
}

var throttleCodes = map[string]bool{
	"SlowDown":             true,
	"Throttling":           true,
	"ThrottlingException":  true,
	"RequestLimitExceeded": true,
	"TooManyRequests":      true,
}

var validationCodes = map[string]string{
	"InvalidBucketName":                  aws.AttrBucket,
	"BucketAlreadyExists":                aws.AttrBucket,
	"IllegalLocationConstraintException": aws.AttrRegion,
	"InvalidLocationConstraint":          aws.AttrRegion,
	"InvalidArgument":                    "",
	"MalformedXML":                       "",
	"InvalidRequest":                     "",
}

// classify maps S3 errors onto the engine's error taxonomy.
func classify(id, op string, err error) error {
	msg := "failed to " + op
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.NewTransientError(msg, err).WithResource(id).WithCode(engine.ErrCodeTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return engine.NewCancelledError(msg, err).WithResource(id)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if throttleCodes[code] {
			return engine.NewThrottledError(msg, err).WithResource(id)
		}
		if field, ok := validationCodes[code]; ok {
			return engine.NewProviderValidationError(id, field, msg+": "+apiErr.ErrorMessage(), err)
		}
		if code == "AccessDenied" {
			return engine.NewPermanentError(msg, err).WithResource(id).WithCode(engine.ErrCodePermissionDenied)
		}
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		switch code := status.HTTPStatusCode(); {
		case code == 429:
			return engine.NewThrottledError(msg, err).WithResource(id)
		case code >= 500:
			return engine.NewTransientError(msg, err).WithResource(id)
		}
	}
	return engine.NewPermanentError(msg, err).WithResource(id).WithCode(engine.ErrCodeProviderFailed)
}

func isAlreadyOwned(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
}

func isNotFound(err error) bool {
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket", "NoSuchLifecycleConfiguration", "404":
			return true
		}
	}
	return false
}

var (
	_ engine.Driver = (*Driver)(nil)
	_ engine.Reader = (*Driver)(nil)
)
