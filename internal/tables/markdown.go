package tables

import (
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// ToMarkdown 把表格HTML渲染为Markdown, domain用于补全相对链接
func ToMarkdown(htmlTable, domain string) (string, error) {
	var opts []converter.ConvertOptionFunc
	if domain != "" {
		opts = append(opts, converter.WithDomain(domain))
	}
	md, err := mdConverter.ConvertString(htmlTable, opts...)
	if err != nil {
		return "", fmt.Errorf("转换Markdown失败: %w", err)
	}
	return md, nil
}
