// internal/resolver/yandex.go
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Slade66/disk-proxy/internal/config"
	"github.com/Slade66/disk-proxy/pkg/proxyerr"
)

const (
	yandexDownloadPath  = "/v1/disk/public/resources/download"
	yandexResourcesPath = "/v1/disk/public/resources"
	// API 响应体上限，正常的响应只有几 KB
	maxAPIBody = 1 << 20
)

// HTTPDoer 是 *http.Client 的最小子集
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Yandex 通过 Yandex Disk 公共 API 解析公共文件夹中的文件
type Yandex struct {
	client    HTTPDoer
	apiBase   string
	publicKey string
	listLimit int
	userAgent string
	log       zerolog.Logger
}

func NewYandex(client HTTPDoer, cfg *config.Config, log zerolog.Logger) *Yandex {
	return &Yandex{
		client:    client,
		apiBase:   strings.TrimRight(cfg.Yandex.APIBase, "/"),
		publicKey: cfg.Yandex.PublicFolderURL,
		listLimit: cfg.ListLimit,
		userAgent: cfg.HTTP.UserAgent,
		log:       log,
	}
}

func (y *Yandex) Name() string { return config.ProviderYandex }

func (y *Yandex) Close() {}

// Resolve 请求 download 接口拿到 href
func (y *Yandex) Resolve(ctx context.Context, filename string) (*ResolvedLink, error) {
	q := url.Values{}
	q.Set("public_key", y.publicKey)
	q.Set("path", "/"+filename)

	status, body, err := y.get(ctx, yandexDownloadPath, q)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		if status == http.StatusNotFound {
			return nil, notFound(filename).WithDetails(proxyerr.Payload(body))
		}
		return nil, y.apiError(status, body)
	}

	var payload struct {
		Href string `json:"href"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, proxyerr.Wrap(proxyerr.Internal, err, "无法解析 Yandex Disk API 的响应")
	}
	if strings.TrimSpace(payload.Href) == "" {
		return nil, proxyerr.New(proxyerr.NoDownloadLink, "Yandex Disk 没有返回下载链接")
	}

	y.log.Debug().Str("filename", filename).Msg("已获取临时下载链接")
	return newLink(payload.Href), nil
}

type yandexResource struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
	Created  string `json:"created"`
	Modified string `json:"modified"`
	Embedded *struct {
		Items []yandexResource `json:"items"`
	} `json:"_embedded"`
}

// List 返回公共文件夹第一层的文件，子目录被忽略
func (y *Yandex) List(ctx context.Context) (*Listing, error) {
	q := url.Values{}
	q.Set("public_key", y.publicKey)
	if y.listLimit > 0 {
		q.Set("limit", strconv.Itoa(y.listLimit))
	}

	status, body, err := y.get(ctx, yandexResourcesPath, q)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		if status == http.StatusNotFound {
			return nil, proxyerr.New(proxyerr.NotFound, "公共文件夹不存在").WithDetails(proxyerr.Payload(body))
		}
		return nil, y.apiError(status, body)
	}

	var folder yandexResource
	if err := json.Unmarshal(body, &folder); err != nil {
		return nil, proxyerr.Wrap(proxyerr.Internal, err, "无法解析 Yandex Disk API 的响应")
	}

	var files []File
	if folder.Embedded != nil {
		for _, item := range folder.Embedded.Items {
			if item.Type != "file" {
				continue
			}
			files = append(files, File{
				Name:     item.Name,
				Path:     item.Path,
				Size:     item.Size,
				Created:  item.Created,
				Modified: item.Modified,
			})
		}
	}
	return newListing(folder.Name, files), nil
}

func (y *Yandex) get(ctx context.Context, path string, q url.Values) (int, []byte, error) {
	endpoint := y.apiBase + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, proxyerr.Wrap(proxyerr.Internal, err, "无法创建 Yandex Disk API 请求")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", y.userAgent)

	resp, err := y.client.Do(req)
	if err != nil {
		return 0, nil, callError(err, "Yandex Disk API")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return 0, nil, callError(err, "Yandex Disk API")
	}
	return resp.StatusCode, body, nil
}

func (y *Yandex) apiError(status int, body []byte) error {
	y.log.Warn().Int("status", status).Bytes("body", body).Msg("Yandex Disk API 返回错误")
	pe := proxyerr.Upstream(status, fmt.Sprintf("Yandex Disk API 返回错误: %d", status))
	if payload := proxyerr.Payload(body); payload != nil {
		pe.Details = payload
	}
	return pe
}
