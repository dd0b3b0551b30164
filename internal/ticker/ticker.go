// Package ticker 从代码、报价页地址或自由文本中提取 ASX 代码
package ticker

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultQuoteURLTemplate Yahoo Finance AU 报价页
const DefaultQuoteURLTemplate = "https://au.finance.yahoo.com/quote/%s.AX/"

var quoteHosts = []string{"au.finance.yahoo.com", "finance.yahoo.com"}

// 代理常把自然语言原样传进来，这些词不是代码
var stopwords = map[string]bool{
	"A": true, "AN": true, "AND": true, "ASX": true, "AX": true, "ATTACH": true, "ATTACHED": true,
	"BODY": true, "CHART": true, "CHECK": true, "CODE": true, "COMPANY": true, "CREATE": true,
	"DAILY": true, "EMAIL": true, "FOR": true, "FINANCE": true, "GENERATE": true, "GRAPH": true,
	"IS": true, "MAIL": true, "OF": true, "PLEASE": true, "QUOTE": true, "REPORT": true, "SEND": true,
	"STOCK": true, "SUBJECT": true, "THE": true, "THIS": true, "TO": true, "TODAY": true,
	"TODAYS": true, "WITH": true, "YOUR": true, "YAHOO": true,
}

var (
	tokenRe    = regexp.MustCompile(`^[A-Z0-9]{1,6}$`)
	cleanRe    = regexp.MustCompile(`^[A-Z0-9]{2,6}$`)
	dotAXRe    = regexp.MustCompile(`^([A-Z0-9]{1,6})\.AX$`)
	urlRe      = regexp.MustCompile(`(?i)https?://\S+`)
	emailRe    = regexp.MustCompile(`[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)
	nonCodeRe  = regexp.MustCompile(`[^A-Z0-9.]`)
	nonAlnumRe = regexp.MustCompile(`[^A-Z0-9]`)
	wordRe     = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,5}\b`)
	phraseRes  = []*regexp.Regexp{
		regexp.MustCompile(`\bASX\s*[:\-]\s*([A-Z0-9]{2,6})\b`),
		regexp.MustCompile(`\bASX\s+([A-Z0-9]{2,6})\b`),
		regexp.MustCompile(`\bFOR\s+([A-Z0-9]{2,6})\b`),
		regexp.MustCompile(`\b(?:CODE|TICKER|COMPANY)\s*[:\-]?\s*([A-Z0-9]{2,6})\b`),
	}
)

// Valid 判断是否为可安全拼接进 URL 与文件名的代码
func Valid(code string) bool {
	return tokenRe.MatchString(code) && !allDigits(code)
}

// Normalize 从代码、.AX 代码、报价页 URL 或自由文本中提取代码，失败返回空串
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	upper := strings.ToUpper(raw)

	if m := dotAXRe.FindStringSubmatch(upper); m != nil && !allDigits(m[1]) {
		return m[1]
	}
	if cleanRe.MatchString(upper) && !allDigits(upper) {
		return upper
	}

	if loc := urlRe.FindString(raw); loc != "" {
		if code := fromURL(strings.Trim(loc, ".,;:!?\"'")); code != "" {
			return code
		}
	}

	text := urlRe.ReplaceAllString(upper, " ")
	text = emailRe.ReplaceAllString(text, " ")

	for _, re := range phraseRes {
		if m := re.FindStringSubmatch(text); m != nil {
			code := nonAlnumRe.ReplaceAllString(m[1], "")
			if len(code) >= 2 && len(code) <= 6 && acceptable(code) {
				return code
			}
		}
	}

	for _, tok := range wordRe.FindAllString(text, -1) {
		if acceptable(tok) {
			return tok
		}
	}
	return ""
}

// fromURL 提取 /quote/<CODE>.AX 或 ?p= / ?symbol= 中的代码
func fromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	for _, part := range strings.Split(u.Path, "/") {
		if code := stripAX(part); code != "" {
			return code
		}
	}
	q := u.Query()
	for _, key := range []string{"p", "symbol"} {
		if code := stripAX(q.Get(key)); code != "" {
			return code
		}
	}
	return ""
}

func stripAX(s string) string {
	cleaned := nonCodeRe.ReplaceAllString(strings.ToUpper(s), "")
	if !strings.HasSuffix(cleaned, ".AX") {
		return ""
	}
	code := strings.TrimSuffix(cleaned, ".AX")
	if len(code) < 1 || len(code) > 6 || !acceptable(code) {
		return ""
	}
	return code
}

func acceptable(code string) bool {
	return !allDigits(code) && !stopwords[code] && tokenRe.MatchString(code)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// BuildQuoteURL 生成报价页地址，调用前 code 必须已通过 Valid
func BuildQuoteURL(template, code string) string {
	if template == "" {
		template = DefaultQuoteURLTemplate
	}
	return fmt.Sprintf(template, strings.ToUpper(code))
}

// IsQuoteURL 判断导航后的地址是否仍是 Yahoo Finance 报价页
func IsQuoteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	matched := false
	for _, suffix := range quoteHosts {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			matched = true
			break
		}
	}
	return matched && strings.Contains(strings.ToLower(u.Path), "/quote/")
}
