// Package render 把解析出的目标转换为最终响应
//
// 识别顺序：vCard data URI → HTML data URI → 视频链接 → WIFI: → 普通重定向
// 目标带显式类型时跳过识别
package render

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/yourname/smartqr-redirect/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	contentTypeVCard = "text/vcard; charset=utf-8"
	contentTypeHTML  = "text/html; charset=utf-8"
)

// Response 渲染结果
type Response struct {
	Kind        model.Kind
	Status      int
	ContentType string
	Headers     map[string]string
	Body        []byte
	Location    string // 仅 redirect
}

// Renderer ContentRenderer
type Renderer struct {
	pages  *template.Template
	logger *zap.Logger
}

// New 创建 Renderer
func New(logger *zap.Logger) *Renderer {
	return &Renderer{
		pages:  template.Must(template.ParseFS(templateFS, "templates/*.html")),
		logger: logger,
	}
}

// Sniff 根据目标内容推断类型
func Sniff(dest string) model.Kind {
	switch {
	case hasDataPrefix(dest, "text/vcard", "text/x-vcard"):
		return model.KindVCard
	case hasDataPrefix(dest, "text/html"):
		return model.KindHTML
	}
	if _, ok := ParseVideo(dest); ok {
		return model.KindVideoEmbed
	}
	if isWifi(dest) {
		return model.KindWifi
	}
	return model.KindRedirect
}

// Render 渲染目标
func (r *Renderer) Render(target model.Target) (*Response, error) {
	kind := target.Kind
	if kind == model.KindUntyped || !kind.Valid() {
		kind = Sniff(target.URL)
	}

	switch kind {
	case model.KindVCard:
		return r.renderVCard(target.URL), nil
	case model.KindHTML:
		return r.renderHTML(target.URL), nil
	case model.KindVideoEmbed:
		if video, ok := ParseVideo(target.URL); ok {
			return r.renderVideo(target.URL, video)
		}
		// 显式标记为视频但链接无法识别，按普通链接跳转
		r.logger.Warn("无法识别的视频链接，按重定向处理", zap.String("url", target.URL))
	case model.KindWifi:
		return r.renderWifi(target.URL)
	}
	return redirect(target.URL), nil
}

// ==================== 各类型渲染 ====================

func (r *Renderer) renderVCard(dest string) *Response {
	body := []byte(dest)
	if hasDataPrefix(dest, "text/vcard", "text/x-vcard") {
		if d, err := parseDataURI(dest); err == nil {
			body = d.Data
		} else {
			r.logger.Warn("vCard data URI 解码失败，原样输出", zap.Error(err))
		}
	}
	return &Response{
		Kind:        model.KindVCard,
		Status:      http.StatusOK,
		ContentType: contentTypeVCard,
		Headers: map[string]string{
			"Content-Disposition": `attachment; filename="contact.vcf"`,
		},
		Body: body,
	}
}

func (r *Renderer) renderHTML(dest string) *Response {
	doc := dest
	if hasDataPrefix(dest, "text/html") {
		if d, err := parseDataURI(dest); err == nil {
			doc = string(d.Data)
		} else {
			r.logger.Warn("HTML data URI 解码失败，原样输出", zap.Error(err))
		}
	}
	return &Response{
		Kind:        model.KindHTML,
		Status:      http.StatusOK,
		ContentType: contentTypeHTML,
		Headers:     htmlHeaders(),
		Body:        []byte(r.transformContact(doc)),
	}
}

// transformContact 改写失败（包括 panic）时回退为原始文档
func (r *Renderer) transformContact(doc string) (out string) {
	out = doc
	if !looksLikeContactPage(doc) {
		return doc
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("名片页面改写 panic，返回原始页面", zap.Any("panic", rec))
			out = doc
		}
	}()

	transformed, err := TransformContactPage(doc)
	if err != nil {
		r.logger.Warn("名片页面改写失败，返回原始页面", zap.Error(err))
		return doc
	}
	return transformed
}

func looksLikeContactPage(doc string) bool {
	return strings.Contains(doc, saveButtonClass) ||
		strings.Contains(doc, saveButtonAltCls) ||
		strings.Contains(doc, saveButtonID)
}

type videoPage struct {
	Title        string
	EmbedURL     string
	SourceURL    string
	ProviderName string
}

func (r *Renderer) renderVideo(dest string, v Video) (*Response, error) {
	provider := "YouTube"
	if v.Provider == "vimeo" {
		provider = "Vimeo"
	}
	body, err := r.execute("video.html", videoPage{
		Title:        provider + " video",
		EmbedURL:     v.EmbedURL(),
		SourceURL:    dest,
		ProviderName: provider,
	})
	if err != nil {
		return nil, err
	}
	return &Response{
		Kind:        model.KindVideoEmbed,
		Status:      http.StatusOK,
		ContentType: contentTypeHTML,
		Headers:     htmlHeaders(),
		Body:        body,
	}, nil
}

type wifiPage struct {
	Wifi
	Payload string
	JoinURL template.URL
}

func (r *Renderer) renderWifi(dest string) (*Response, error) {
	page := wifiPage{Wifi: ParseWifi(dest), Payload: dest, JoinURL: "#"}
	// 只有 WIFI: 前缀的内容才允许作为链接输出
	if isWifi(dest) {
		page.JoinURL = template.URL(dest)
	}
	body, err := r.execute("wifi.html", page)
	if err != nil {
		return nil, err
	}
	return &Response{
		Kind:        model.KindWifi,
		Status:      http.StatusOK,
		ContentType: contentTypeHTML,
		Headers:     htmlHeaders(),
		Body:        body,
	}, nil
}

func redirect(dest string) *Response {
	return &Response{
		Kind:     model.KindRedirect,
		Status:   http.StatusFound,
		Location: normalizeLocation(dest),
	}
}

// normalizeLocation 没有协议的目标补 https://，避免被当成相对路径
func normalizeLocation(dest string) string {
	dest = strings.TrimSpace(dest)
	u, err := url.Parse(dest)
	if err == nil && u.Scheme != "" {
		return dest
	}
	if strings.HasPrefix(dest, "//") {
		return "https:" + dest
	}
	return "https://" + dest
}

func (r *Renderer) execute(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.pages.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func htmlHeaders() map[string]string {
	return map[string]string{"X-Content-Type-Options": "nosniff"}
}
