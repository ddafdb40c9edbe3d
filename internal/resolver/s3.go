// internal/resolver/s3.go
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/Slade66/disk-proxy/internal/config"
	"github.com/Slade66/disk-proxy/pkg/proxyerr"
)

// s3API 是 S3 客户端中用到的部分，测试时可以替换
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type s3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3 为 S3 或兼容 S3 的存储签发预签名 GET 链接
type S3 struct {
	api       s3API
	presigner s3Presigner
	bucket    string
	prefix    string
	ttl       time.Duration
	listLimit int
	log       zerolog.Logger
}

// NewS3 根据配置创建客户端；设置了 S3_ENDPOINT 时使用 path-style 访问
func NewS3(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*S3, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.S3.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.S3.Region))
	}
	if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("无法加载 AWS 配置: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3(client, s3.NewPresignClient(client), cfg.Bucket, cfg.ListLimit, log), nil
}

func newS3(api s3API, presigner s3Presigner, bucket config.BucketConfig, listLimit int, log zerolog.Logger) *S3 {
	return &S3{
		api:       api,
		presigner: presigner,
		bucket:    bucket.Name,
		prefix:    bucket.KeyPrefix,
		ttl:       bucket.LinkTTL,
		listLimit: listLimit,
		log:       log,
	}
}

func (c *S3) Name() string { return config.ProviderS3 }

func (c *S3) Close() {}

// Resolve 先用 HeadObject 确认对象存在，再签发链接。
// 预签名本身不访问网络，不检查的话不存在的文件会变成上游 404。
func (c *S3) Resolve(ctx context.Context, filename string) (*ResolvedLink, error) {
	key := c.prefix + filename

	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, notFound(filename)
		}
		return nil, s3Error(err, "检查对象失败")
	}

	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.ttl))
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.Internal, err, "无法生成预签名链接")
	}
	if req == nil || req.URL == "" {
		return nil, proxyerr.New(proxyerr.NoDownloadLink, "S3 没有返回预签名链接")
	}

	c.log.Debug().Str("bucket", c.bucket).Str("key", key).Dur("ttl", c.ttl).Msg("已生成预签名链接")
	return newLink(req.URL), nil
}

// List 列出前缀下的对象，不进入子目录
func (c *S3) List(ctx context.Context) (*Listing, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Delimiter: aws.String("/"),
	}
	if c.prefix != "" {
		input.Prefix = aws.String(c.prefix)
	}

	var files []File
	paginator := s3.NewListObjectsV2Paginator(c.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s3Error(err, "列出对象失败")
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), c.prefix)
			if name == "" {
				continue
			}
			f := File{
				Name: name,
				Path: "/" + name,
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				f.Modified = obj.LastModified.UTC().Format(time.RFC3339)
			}
			files = append(files, f)
			if c.listLimit > 0 && len(files) >= c.listLimit {
				return newListing(c.bucket+"/"+c.prefix, files), nil
			}
		}
	}
	return newListing(c.bucket+"/"+c.prefix, files), nil
}

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// s3Error 保留 SDK 返回的 HTTP 状态码和错误码
func s3Error(err error, message string) error {
	var statusErr interface{ HTTPStatusCode() int }
	if !errors.As(err, &statusErr) {
		return callError(err, "S3")
	}

	pe := proxyerr.Upstream(statusErr.HTTPStatusCode(), fmt.Sprintf("%s: %d", message, statusErr.HTTPStatusCode()))
	pe.Err = err
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		pe.Details.(map[string]any)["code"] = apiErr.ErrorCode()
	}
	return pe
}
