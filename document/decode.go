// Package document turns uploaded files into plain text for the pipeline.
package document

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/simplifiedchinese"

	"litflow/generator"
)

// Extensions lists the accepted upload types.
var Extensions = []string{".txt", ".md", ".pdf"}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Supported reports whether name has an accepted extension.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Decode 按扩展名解码：txt/md 先按 UTF-8，失败再按 GBK；pdf 抽取各页文本。
// 所有失败都以 DecodeFailure 返回。
func Decode(name string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		text, err = decodeText(data)
	case ".pdf":
		text, err = decodePDF(data)
	default:
		return "", generator.Failf(generator.KindDecode, "不支持的文件类型 %q", filepath.Ext(name))
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", generator.Failf(generator.KindDecode, "文件 %s 内容为空", name)
	}
	return text, nil
}

func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
		return "", generator.Failf(generator.KindDecode, "无法使用 UTF-8 或 GBK 解码文本文件")
	}
	return string(out), nil
}

func decodePDF(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", generator.Failf(generator.KindDecode, "读取 PDF 文件失败: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", generator.Wrap(generator.KindDecode, err, "读取 PDF 文件失败")
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", generator.Wrap(generator.KindDecode, err, "提取 PDF 文本失败")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", generator.Wrap(generator.KindDecode, err, "提取 PDF 文本失败")
	}
	return buf.String(), nil
}

// Stem returns the file name without directory and extension.
func Stem(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// UniqueStems maps names to stems, suffixing repeats with _2, _3, ...
func UniqueStems(names []string) []string {
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		stem := Stem(n)
		if stem == "" || stem == "." {
			stem = fmt.Sprintf("item_%d", i+1)
		}
		seen[stem]++
		if c := seen[stem]; c > 1 {
			candidate := fmt.Sprintf("%s_%d", stem, c)
			for seen[candidate] > 0 {
				c++
				candidate = fmt.Sprintf("%s_%d", stem, c)
			}
			seen[candidate]++
			stem = candidate
		}
		out[i] = stem
	}
	return out
}
