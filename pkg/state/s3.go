package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

const (
	stateObject = "state.json"
	lockObject  = "state.lock"
)

// S3API is the subset of the S3 client the backend uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3 backend configuration.
type S3Config struct {
	Bucket string

	// Prefix is prepended to every object key.
	Prefix string

	Region   string
	Endpoint string

	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Backend stores each environment as <prefix>/<env>/state.json with
// conditional writes on the object's ETag.
type S3Backend struct {
	client S3API
	bucket string
	prefix string
}

// OpenS3 creates an S3 backend from the default AWS configuration chain.
func OpenS3(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("state bucket is required")
	}

	var loaders []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = awssdk.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3Backend(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3Backend creates a backend on an existing client.
func NewS3Backend(client S3API, bucket, prefix string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, prefix: prefix}
}

func (b *S3Backend) key(env, name string) string {
	return path.Join(b.prefix, env, name)
}

// Load implements engine.StateBackend. The version is the object's ETag.
func (b *S3Backend) Load(ctx context.Context, env string) (*engine.StateSnapshot, engine.Version, error) {
	body, etag, err := b.get(ctx, b.key(env, stateObject))
	if err != nil {
		if isMissingKey(err) {
			return engine.NewStateSnapshot(env), "", nil
		}
		return nil, "", fmt.Errorf("failed to load state: %w", err)
	}
	snap, err := decodeSnapshot(env, body)
	if err != nil {
		return nil, "", err
	}
	return snap, engine.Version(etag), nil
}

// Save implements engine.StateBackend with If-Match on the expected ETag,
// or If-None-Match when no state exists yet.
func (b *S3Backend) Save(ctx context.Context, env string, snap *engine.StateSnapshot, expected engine.Version) (engine.Version, error) {
	body, err := encodeSnapshot(snap)
	if err != nil {
		return "", err
	}
	in := &s3.PutObjectInput{
		Bucket:      awssdk.String(b.bucket),
		Key:         awssdk.String(b.key(env, stateObject)),
		Body:        bytes.NewReader(body),
		ContentType: awssdk.String("application/json"),
	}
	if expected == "" {
		in.IfNoneMatch = awssdk.String("*")
	} else {
		in.IfMatch = awssdk.String(string(expected))
	}

	out, err := b.client.PutObject(ctx, in)
	if err != nil {
		if isPreconditionFailed(err) {
			return "", staleVersion(env, expected, err)
		}
		return "", fmt.Errorf("failed to save state: %w", err)
	}
	return engine.Version(awssdk.ToString(out.ETag)), nil
}

// Lock implements engine.StateBackend by creating the lock object with If-None-Match.
func (b *S3Backend) Lock(ctx context.Context, env string, info engine.LockInfo) (engine.StateLock, error) {
	if info.ID == "" {
		info.ID = uuid.New().String()
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lock: %w", err)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      awssdk.String(b.bucket),
		Key:         awssdk.String(b.key(env, lockObject)),
		Body:        bytes.NewReader(body),
		ContentType: awssdk.String("application/json"),
		IfNoneMatch: awssdk.String("*"),
	})
	if err != nil {
		if !isPreconditionFailed(err) {
			return nil, fmt.Errorf("failed to acquire state lock: %w", err)
		}
		held, rerr := b.lockInfo(ctx, env)
		if rerr != nil {
			return nil, rerr
		}
		if held == nil {
			held = &engine.LockInfo{Holder: "unknown"}
		}
		return nil, lockHeld(env, *held)
	}
	return &s3Lock{backend: b, env: env, info: info}, nil
}

func (b *S3Backend) lockInfo(ctx context.Context, env string) (*engine.LockInfo, error) {
	body, _, err := b.get(ctx, b.key(env, lockObject))
	if err != nil {
		if isMissingKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state lock: %w", err)
	}
	info := &engine.LockInfo{}
	if err := json.Unmarshal(body, info); err != nil {
		return nil, fmt.Errorf("failed to decode state lock: %w", err)
	}
	return info, nil
}

// ForceUnlock implements Backend.
func (b *S3Backend) ForceUnlock(ctx context.Context, env string) (*engine.LockInfo, error) {
	held, err := b.lockInfo(ctx, env)
	if err != nil || held == nil {
		return nil, err
	}
	if err := b.deleteLock(ctx, env); err != nil {
		return nil, err
	}
	return held, nil
}

func (b *S3Backend) deleteLock(ctx context.Context, env string) error {
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: awssdk.String(b.bucket),
		Key:    awssdk.String(b.key(env, lockObject)),
	}); err != nil && !isMissingKey(err) {
		return fmt.Errorf("failed to remove state lock: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *S3Backend) Close() error { return nil }

func (b *S3Backend) get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(b.bucket),
		Key:    awssdk.String(key),
	})
	if err != nil {
		return nil, "", err
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return body, awssdk.ToString(out.ETag), nil
}

type s3Lock struct {
	backend *S3Backend
	env     string
	info    engine.LockInfo
}

func (l *s3Lock) Info() engine.LockInfo { return l.info }

// Unlock removes the lock object if this handle still owns it.
func (l *s3Lock) Unlock(ctx context.Context) error {
	held, err := l.backend.lockInfo(ctx, l.env)
	if err != nil {
		return err
	}
	if held == nil || held.ID != l.info.ID {
		return nil
	}
	return l.backend.deleteLock(ctx, l.env)
}

func isMissingKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
		return true
	}
	return httpStatus(err) == http.StatusNotFound
}

// isPreconditionFailed matches a failed If-Match or If-None-Match, and the
// 409 S3 returns when a concurrent conditional write wins.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	status := httpStatus(err)
	return status == http.StatusPreconditionFailed || status == http.StatusConflict
}

func httpStatus(err error) int {
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		return status.HTTPStatusCode()
	}
	return 0
}

var _ Backend = (*S3Backend)(nil)
