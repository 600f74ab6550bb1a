package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-vcard"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrTransformation 名片页面无法改写（结构无法识别或缺少联系人信息）
// 调用方应当回退为原始 HTML
var ErrTransformation = errors.New("名片页面改写失败")

// 页面中“保存联系人”按钮与字段的约定标记
const (
	saveButtonClass  = "save-contact"
	saveButtonAltCls = "add-to-contacts"
	saveButtonID     = "saveContact"
)

// Contact 从名片页面提取出的联系人字段
type Contact struct {
	Name    string
	Title   string
	Company string
	Phones  []string
	Emails  []string
	Address string
	Website string
	Social  []string
}

// Empty 没有任何可用于生成 vCard 的信息
func (c Contact) Empty() bool {
	return c.Name == "" && len(c.Phones) == 0 && len(c.Emails) == 0
}

// ExtractContactFields 从名片 HTML 中提取联系人字段
// 纯函数，不修改输入
func ExtractContactFields(doc string) (Contact, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return Contact{}, fmt.Errorf("%w: %v", ErrTransformation, err)
	}
	return extractContact(root), nil
}

func extractContact(root *html.Node) Contact {
	var c Contact
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		switch {
		case hasClass(n, "contact-name"):
			setOnce(&c.Name, textContent(n))
		case hasClass(n, "contact-title"):
			setOnce(&c.Title, textContent(n))
		case hasClass(n, "contact-company"):
			setOnce(&c.Company, textContent(n))
		case hasClass(n, "contact-address"):
			setOnce(&c.Address, textContent(n))
		}

		if n.DataAtom != atom.A {
			return true
		}
		href := strings.TrimSpace(attr(n, "href"))
		lower := strings.ToLower(href)
		switch {
		case strings.HasPrefix(lower, "tel:"):
			c.Phones = appendUnique(c.Phones, strings.TrimSpace(href[4:]))
		case strings.HasPrefix(lower, "mailto:"):
			addr, _, _ := strings.Cut(href[7:], "?")
			c.Emails = appendUnique(c.Emails, strings.TrimSpace(addr))
		case hasClass(n, "contact-website"):
			setOnce(&c.Website, href)
		case hasClass(n, "social-link"):
			c.Social = appendUnique(c.Social, href)
		}
		return true
	})

	// 没有显式标记姓名时退回 <h1>
	if c.Name == "" {
		if h1 := find(root, func(n *html.Node) bool { return n.DataAtom == atom.H1 }); h1 != nil {
			c.Name = textContent(h1)
		}
	}
	return c
}

// TransformContactPage 把名片页面中依赖脚本的“保存联系人”按钮
// 替换为直接下载 vCard 的链接，并移除对应脚本
func TransformContactPage(doc string) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransformation, err)
	}

	button := find(root, isSaveButton)
	if button == nil || button.Parent == nil {
		return "", fmt.Errorf("%w: 未找到保存联系人按钮", ErrTransformation)
	}

	contact := extractContact(root)
	if contact.Empty() {
		return "", fmt.Errorf("%w: 页面中没有联系人信息", ErrTransformation)
	}

	card, err := EncodeVCard(contact)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransformation, err)
	}

	// 1. 用下载链接替换按钮
	link := &html.Node{
		Type:     html.ElementNode,
		Data:     "a",
		DataAtom: atom.A,
		Attr: []html.Attribute{
			{Key: "href", Val: "data:text/vcard;charset=utf-8;base64," + base64.StdEncoding.EncodeToString(card)},
			{Key: "download", Val: "contact.vcf"},
			{Key: "class", Val: attrOr(button, "class", saveButtonClass)},
		},
	}
	link.AppendChild(&html.Node{Type: html.TextNode, Data: buttonLabel(button)})
	button.Parent.InsertBefore(link, button)
	button.Parent.RemoveChild(button)

	// 2. 移除生成 vCard 的内联脚本
	var scripts []*html.Node
	walk(root, func(n *html.Node) bool {
		if n.DataAtom == atom.Script && attr(n, "src") == "" && isContactScript(textContent(n)) {
			scripts = append(scripts, n)
		}
		return true
	})
	for _, s := range scripts {
		s.Parent.RemoveChild(s)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransformation, err)
	}
	return buf.String(), nil
}

// EncodeVCard 生成 vCard 4.0 文本
func EncodeVCard(c Contact) ([]byte, error) {
	card := make(vcard.Card)
	name := c.Name
	if name == "" {
		name = firstNonEmpty(c.Company, firstOf(c.Emails), firstOf(c.Phones))
	}
	card.SetValue(vcard.FieldFormattedName, name)
	card.SetName(splitName(c.Name))
	if c.Title != "" {
		card.SetValue(vcard.FieldTitle, c.Title)
	}
	if c.Company != "" {
		card.SetValue(vcard.FieldOrganization, c.Company)
	}
	for _, p := range c.Phones {
		card.Add(vcard.FieldTelephone, &vcard.Field{
			Value:  p,
			Params: vcard.Params{vcard.ParamType: {vcard.TypeCell}},
		})
	}
	for _, e := range c.Emails {
		card.Add(vcard.FieldEmail, &vcard.Field{Value: e})
	}
	if c.Address != "" {
		card.AddAddress(&vcard.Address{StreetAddress: c.Address})
	}
	if c.Website != "" {
		card.Add(vcard.FieldURL, &vcard.Field{Value: c.Website})
	}
	for _, s := range c.Social {
		card.Add(vcard.FieldURL, &vcard.Field{Value: s, Params: vcard.Params{vcard.ParamType: {"social"}}})
	}
	vcard.ToV4(card)

	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ==================== HTML 辅助函数 ====================

func isSaveButton(n *html.Node) bool {
	if n.Type != html.ElementNode || (n.DataAtom != atom.Button && n.DataAtom != atom.A) {
		return false
	}
	return hasClass(n, saveButtonClass) || hasClass(n, saveButtonAltCls) || attr(n, "id") == saveButtonID
}

func isContactScript(src string) bool {
	return strings.Contains(src, "BEGIN:VCARD") ||
		strings.Contains(src, saveButtonClass) ||
		strings.Contains(src, saveButtonAltCls) ||
		strings.Contains(src, saveButtonID)
}

func buttonLabel(n *html.Node) string {
	if label := textContent(n); label != "" {
		return label
	}
	return "Save Contact"
}

// walk 先序遍历；fn 返回 false 时不再进入子节点
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func find(root *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if match(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func attrOr(n *html.Node, key, fallback string) string {
	if v := attr(n, key); v != "" {
		return v
	}
	return fallback
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// textContent 子树文本，空白折叠
func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		return true
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func splitName(full string) *vcard.Name {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return &vcard.Name{}
	case 1:
		return &vcard.Name{GivenName: parts[0]}
	}
	return &vcard.Name{
		GivenName:  strings.Join(parts[:len(parts)-1], " "),
		FamilyName: parts[len(parts)-1],
	}
}

func firstOf(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
