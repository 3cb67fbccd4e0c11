// Package security はユーザー入力を安全に表示するための機能を提供する。
//
// MarkdownRenderer はチケット本文のMarkdownをHTMLに変換し、
// bluemondayの許可リストポリシーでサニタイズする。
// 本文はユーザーが自由に入力するため、XSSを防ぐために必ずこのレンダラーを経由して表示する。
package security

import (
	"bytes"
	"html/template"
	"log/slog"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// MarkdownRendererService はMarkdownを安全なHTMLへ変換する機能のインターフェース。
type MarkdownRendererService interface {
	// Render はMarkdownをHTMLに変換してサニタイズする。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す。
	Render(source string) template.HTML
}

// markdownRenderer はMarkdownRendererServiceの実装。
// goldmarkとbluemondayのポリシーはいずれも並行利用に安全。
type markdownRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewMarkdownRenderer はMarkdownRendererServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - bluemondayのUGCポリシー（見出し、リスト、表、コード、画像など）
//   - script, iframe, style および全てのon*イベント属性は除去
//   - 外部リンクには target="_blank" と rel="nofollow noreferrer noopener" を付与
//   - 相対URLは許可（同一サイト内のチケットへのリンク）
func NewMarkdownRenderer() *markdownRenderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
		),
	)

	p := bluemonday.UGCPolicy()
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AllowRelativeURLs(true)

	return &markdownRenderer{
		md:     md,
		policy: p,
	}
}

// Render はMarkdownをHTMLに変換してサニタイズする。
// 変換に失敗した場合はエスケープしたプレーンテキストを返す。
func (r *markdownRenderer) Render(source string) template.HTML {
	if source == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		slog.Warn("failed to render markdown",
			slog.String("error", err.Error()),
		)
		return template.HTML("<p>" + template.HTMLEscapeString(source) + "</p>")
	}

	return template.HTML(r.policy.SanitizeBytes(buf.Bytes()))
}
