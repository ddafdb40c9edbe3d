// internal/resolver/obs.go
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/huaweicloud/huaweicloud-sdk-go-obs/obs"
	"github.com/rs/zerolog"

	"github.com/Slade66/disk-proxy/internal/config"
	"github.com/Slade66/disk-proxy/pkg/proxyerr"
)

// obsAPI 封装了 OBS SDK 中用到的调用。
// SDK 的方法带有未导出类型的可变参数，无法直接用接口描述。
type obsAPI interface {
	objectMetadata(bucket, key string) (*obs.GetObjectMetadataOutput, error)
	signedURL(bucket, key string, expires int) (string, error)
	listObjects(bucket, prefix string, maxKeys int) (*obs.ListObjectsOutput, error)
	close()
}

type obsSDK struct {
	client *obs.ObsClient
}

func (s *obsSDK) objectMetadata(bucket, key string) (*obs.GetObjectMetadataOutput, error) {
	input := &obs.GetObjectMetadataInput{}
	input.Bucket = bucket
	input.Key = key
	return s.client.GetObjectMetadata(input)
}

func (s *obsSDK) signedURL(bucket, key string, expires int) (string, error) {
	input := &obs.CreateSignedUrlInput{}
	input.Method = obs.HttpMethodGet
	input.Bucket = bucket
	input.Key = key
	input.Expires = expires
	output, err := s.client.CreateSignedUrl(input)
	if err != nil {
		return "", err
	}
	return output.SignedUrl, nil
}

func (s *obsSDK) listObjects(bucket, prefix string, maxKeys int) (*obs.ListObjectsOutput, error) {
	input := &obs.ListObjectsInput{}
	input.Bucket = bucket
	input.Prefix = prefix
	input.Delimiter = "/"
	if maxKeys > 0 {
		input.MaxKeys = maxKeys
	}
	return s.client.ListObjects(input)
}

func (s *obsSDK) close() {
	if s.client != nil {
		s.client.Close()
	}
}

// OBS 为华为云 OBS 桶中的对象签发临时链接
type OBS struct {
	api       obsAPI
	bucket    string
	prefix    string
	ttl       time.Duration
	listLimit int
	log       zerolog.Logger
}

// NewOBS 创建 OBS 客户端，SDK 的超时与解析超时保持一致
func NewOBS(cfg *config.Config, log zerolog.Logger) (*OBS, error) {
	timeout := int(cfg.HTTP.ResolveTimeout / time.Second)
	if timeout <= 0 {
		timeout = 1
	}
	client, err := obs.New(cfg.OBS.AK, cfg.OBS.SK, cfg.OBS.Endpoint,
		obs.WithConnectTimeout(timeout),
		obs.WithSocketTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("无法创建 OBS 客户端: %w", err)
	}
	return newOBS(&obsSDK{client: client}, cfg.Bucket, cfg.ListLimit, log), nil
}

func newOBS(api obsAPI, bucket config.BucketConfig, listLimit int, log zerolog.Logger) *OBS {
	return &OBS{
		api:       api,
		bucket:    bucket.Name,
		prefix:    bucket.KeyPrefix,
		ttl:       bucket.LinkTTL,
		listLimit: listLimit,
		log:       log,
	}
}

func (o *OBS) Name() string { return config.ProviderOBS }

// Close 关闭客户端连接
func (o *OBS) Close() {
	o.api.close()
}

func (o *OBS) Resolve(ctx context.Context, filename string) (*ResolvedLink, error) {
	key := o.prefix + filename

	_, err := withContext(ctx, func() (*obs.GetObjectMetadataOutput, error) {
		return o.api.objectMetadata(o.bucket, key)
	})
	if err != nil {
		if obsStatus(err) == http.StatusNotFound {
			return nil, notFound(filename)
		}
		return nil, obsError(err, "检查对象失败")
	}

	signed, err := o.api.signedURL(o.bucket, key, int(o.ttl/time.Second))
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.Internal, err, "无法生成 OBS 临时链接")
	}
	if signed == "" {
		return nil, proxyerr.New(proxyerr.NoDownloadLink, "OBS 没有返回临时链接")
	}

	o.log.Debug().Str("bucket", o.bucket).Str("key", key).Msg("已生成 OBS 临时链接")
	return newLink(signed), nil
}

func (o *OBS) List(ctx context.Context) (*Listing, error) {
	output, err := withContext(ctx, func() (*obs.ListObjectsOutput, error) {
		return o.api.listObjects(o.bucket, o.prefix, o.listLimit)
	})
	if err != nil {
		return nil, obsError(err, "列出对象失败")
	}

	var files []File
	for _, content := range output.Contents {
		name := strings.TrimPrefix(content.Key, o.prefix)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		f := File{Name: name, Path: "/" + name, Size: content.Size}
		if !content.LastModified.IsZero() {
			f.Modified = content.LastModified.UTC().Format(time.RFC3339)
		}
		files = append(files, f)
	}
	return newListing(o.bucket+"/"+o.prefix, files), nil
}

// withContext 让不支持 context 的 SDK 调用也能被超时和取消打断。
// 被放弃的调用由 SDK 自身的 socket 超时收尾。
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func obsStatus(err error) int {
	var obsErr obs.ObsError
	if errors.As(err, &obsErr) {
		return obsErr.StatusCode
	}
	return 0
}

func obsError(err error, message string) error {
	var obsErr obs.ObsError
	if !errors.As(err, &obsErr) {
		return callError(err, "OBS")
	}
	pe := proxyerr.Upstream(obsErr.StatusCode, fmt.Sprintf("%s: %d", message, obsErr.StatusCode))
	pe.Err = err
	if obsErr.Code != "" {
		pe.Details.(map[string]any)["code"] = obsErr.Code
	}
	return pe
}
