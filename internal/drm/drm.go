// Package drm implements heuristic DRM-scheme detection across URLs,
// manifest content, HTTP headers, and error messages, plus the public-CDN
// AES-128 carve-out that keeps ordinary encrypted HLS from being
// misclassified as DRM.
package drm

import (
	"regexp"
	"sort"
	"strings"
)

// Type identifies a DRM scheme family.
type Type string

const (
	TypeWidevine    Type = "widevine"
	TypePlayReady   Type = "playready"
	TypeFairPlay    Type = "fairplay"
	TypeClearKey    Type = "clearkey"
	TypeGeneric     Type = "generic_drm"
	TypeHLSEncrypt  Type = "hls_encryption"
	TypeDASHProtect Type = "dash_protection"
	TypeErrorBased  Type = "error_based"
)

// patterns maps each DRM family to the case-insensitive regexes that
// identify it in a URL or manifest body.
var patterns = map[Type][]*regexp.Regexp{
	TypeWidevine: {
		regexp.MustCompile(`(?i)widevine`),
		regexp.MustCompile(`(?i)drm\.widevine`),
		regexp.MustCompile(`(?i)wv-keyos`),
		regexp.MustCompile(`(?i)application/dash\+xml.*widevine`),
	},
	TypePlayReady: {
		regexp.MustCompile(`(?i)playready`),
		regexp.MustCompile(`(?i)microsoft\.playready`),
		regexp.MustCompile(`(?i)mspr-2\.0`),
		regexp.MustCompile(`(?i)application/dash\+xml.*playready`),
	},
	TypeFairPlay: {
		regexp.MustCompile(`(?i)fairplay`),
		regexp.MustCompile(`(?i)fps-`),
		regexp.MustCompile(`(?i)application/vnd\.apple\.fps`),
		regexp.MustCompile(`(?i)skd://`),
	},
	TypeClearKey: {
		regexp.MustCompile(`(?i)clearkey`),
		regexp.MustCompile(`(?i)clear-key`),
		regexp.MustCompile(`(?i)org\.w3\.clearkey`),
	},
	TypeGeneric: {
		regexp.MustCompile(`(?i)encrypted`),
		regexp.MustCompile(`(?i)protection`),
		regexp.MustCompile(`(?i)contentprotection`),
		regexp.MustCompile(`(?i)keyid`),
		regexp.MustCompile(`(?i)key_id`),
		regexp.MustCompile(`(?i)cenc`),
		regexp.MustCompile(`(?i)cbcs`),
	},
}

// httpIndicators are header names that, when present, suggest DRM
// involvement regardless of their value.
var httpIndicators = []string{
	"x-drm-",
	"x-widevine-",
	"x-playready-",
	"content-protection",
	"www-authenticate",
	"authorization",
}

// errorKeywords flag DRM-related failure messages.
var errorKeywords = []string{
	"drm_protected",
	"encrypted",
	"protection",
	"license",
	"authorization",
	"forbidden",
	"content protection",
	"digital rights",
	"access denied",
	"subscription required",
	"geo-blocked",
	"not available in your region",
}

// defaultPublicServices is the built-in set of known public, non-DRM
// AES-128 streaming services. Config.PublicServices extends this list.
var defaultPublicServices = []string{"pluto.tv", "samsung", "tubi", "crackle", "xumo"}

var simpleKeyFilenamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.key$`),
	regexp.MustCompile(`key\d*\.bin$`),
	regexp.MustCompile(`encryption\.key$`),
}

var hlsKeyLinePattern = regexp.MustCompile(`(?i)#EXT-X-KEY:.*`)
var uriAttrPattern = regexp.MustCompile(`URI="([^"]+)"`)
var dashProtectionPattern = regexp.MustCompile(`(?i)<contentprotection[^>]*>`)

// Result is the outcome of a single-source detection pass.
type Result struct {
	HasDRM     bool
	DRMType    Type
	DRMTypes   []Type
	Indicators []string
}

// Config extends the built-in public-AES-128 allowlist with operator-known
// services, per spec Open Question #3.
type Config struct {
	PublicServices []string
}

// IsPublicAES128Encryption reports whether an #EXT-X-KEY line describes
// ordinary public AES-128 encryption rather than a DRM deployment dressed up
// as AES-128.
func IsPublicAES128Encryption(cfg Config, keyLine, content string) bool {
	keyLineUpper := strings.ToUpper(keyLine)
	if !strings.Contains(keyLineUpper, "METHOD=AES-128") {
		return false
	}

	contentLower := strings.ToLower(content)
	keyLineLower := strings.ToLower(keyLine)

	for _, p := range []string{"pluto.tv", "plutotv", "samsung", "samsungtv"} {
		if strings.Contains(contentLower, p) || strings.Contains(keyLineLower, p) {
			return true
		}
	}

	match := uriAttrPattern.FindStringSubmatch(keyLine)
	if match == nil {
		return false
	}
	keyURI := strings.ToLower(match[1])

	if !strings.Contains(keyURI, "http://") && !strings.Contains(keyURI, "https://") {
		return false
	}

	for _, p := range simpleKeyFilenamePatterns {
		if p.MatchString(keyURI) {
			return true
		}
	}

	services := append(append([]string{}, defaultPublicServices...), cfg.PublicServices...)
	for _, svc := range services {
		if strings.Contains(keyURI, strings.ToLower(svc)) {
			return true
		}
	}
	return false
}

// DetectInURL scans a URL for DRM-scheme indicators.
func DetectInURL(url string) Result {
	if url == "" {
		return Result{}
	}
	lower := strings.ToLower(url)
	return scanPatterns(lower, "URL pattern")
}

// DetectInContent scans manifest or response body content for DRM
// indicators, with extra handling for HLS #EXT-X-KEY tags (honoring the
// public-AES-128 carve-out) and DASH ContentProtection elements.
func DetectInContent(cfg Config, content, contentType string) Result {
	if content == "" {
		return Result{}
	}
	lower := strings.ToLower(content)
	res := scanPatternsAll(lower, "Content pattern")

	if strings.EqualFold(contentType, "m3u8") || strings.EqualFold(contentType, "hls") || strings.Contains(content, "#EXTM3U") {
		for _, keyLine := range hlsKeyLinePattern.FindAllString(content, -1) {
			if strings.Contains(strings.ToUpper(keyLine), "METHOD=NONE") {
				continue
			}
			if IsPublicAES128Encryption(cfg, keyLine, content) {
				continue
			}
			res.DRMTypes = append(res.DRMTypes, TypeHLSEncrypt)
			res.Indicators = append(res.Indicators, "HLS encryption: "+keyLine)
		}
	}

	if strings.EqualFold(contentType, "mpd") || strings.EqualFold(contentType, "dash") ||
		(strings.Contains(lower, "xmlns") && strings.Contains(lower, "dash")) {
		if matches := dashProtectionPattern.FindAllString(lower, -1); len(matches) > 0 {
			res.DRMTypes = append(res.DRMTypes, TypeDASHProtect)
			res.Indicators = append(res.Indicators, "DASH ContentProtection elements found")
		}
	}

	res.DRMTypes = dedupTypes(res.DRMTypes)
	res.HasDRM = len(res.Indicators) > 0
	if len(res.DRMTypes) > 0 {
		res.DRMType = res.DRMTypes[0]
	}
	return res
}

// DetectInHeaders scans HTTP response headers for DRM indicators.
func DetectInHeaders(headers map[string]string) Result {
	if len(headers) == 0 {
		return Result{}
	}
	var indicators []string
	var types []Type

	for name, value := range headers {
		nameLower := strings.ToLower(name)
		valueLower := strings.ToLower(value)

		for _, ind := range httpIndicators {
			if strings.Contains(nameLower, ind) {
				indicators = append(indicators, "Header name: "+name)
				switch {
				case strings.Contains(nameLower, "widevine"):
					types = append(types, TypeWidevine)
				case strings.Contains(nameLower, "playready"):
					types = append(types, TypePlayReady)
				default:
					types = append(types, TypeGeneric)
				}
			}
		}

		for drmType, regexes := range patterns {
			for _, p := range regexes {
				if p.MatchString(valueLower) {
					types = append(types, drmType)
					indicators = append(indicators, "Header value ("+name+")")
				}
			}
		}
	}

	types = dedupTypes(types)
	res := Result{HasDRM: len(indicators) > 0, Indicators: indicators, DRMTypes: types}
	if len(types) > 0 {
		res.DRMType = types[0]
	}
	return res
}

// DetectInError scans an error message for DRM-related failure keywords.
func DetectInError(errorMessage string) Result {
	if errorMessage == "" {
		return Result{}
	}
	lower := strings.ToLower(errorMessage)
	var indicators []string
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			indicators = append(indicators, "Error keyword: "+kw)
		}
	}
	if len(indicators) == 0 {
		return Result{}
	}
	return Result{HasDRM: true, DRMType: TypeErrorBased, DRMTypes: []Type{TypeErrorBased}, Indicators: indicators}
}

// Check aggregates detection across all available sources and reports a
// confidence level: "high" when two or more indicators fired, "medium" when
// exactly one did, "low" when none did.
type Check struct {
	HasDRM     bool
	DRMType    Type
	DRMTypes   []Type
	Indicators []string
	Confidence string
}

// Comprehensive runs detection over whichever of url/content/headers/errMsg
// are non-empty and combines the results.
func Comprehensive(cfg Config, url, content string, headers map[string]string, errMsg, contentType string) Check {
	var allIndicators []string
	var allTypes []Type

	if url != "" {
		r := DetectInURL(url)
		if r.HasDRM {
			allIndicators = append(allIndicators, r.Indicators...)
			allTypes = append(allTypes, r.DRMTypes...)
		}
	}
	if content != "" {
		r := DetectInContent(cfg, content, contentType)
		if r.HasDRM {
			allIndicators = append(allIndicators, r.Indicators...)
			allTypes = append(allTypes, r.DRMTypes...)
		}
	}
	if len(headers) > 0 {
		r := DetectInHeaders(headers)
		if r.HasDRM {
			allIndicators = append(allIndicators, r.Indicators...)
			allTypes = append(allTypes, r.DRMTypes...)
		}
	}
	if errMsg != "" {
		r := DetectInError(errMsg)
		if r.HasDRM {
			allIndicators = append(allIndicators, r.Indicators...)
			allTypes = append(allTypes, r.DRMTypes...)
		}
	}

	allTypes = dedupTypes(allTypes)
	hasDRM := len(allIndicators) > 0
	var primary Type
	if len(allTypes) > 0 {
		primary = allTypes[0]
	}

	confidence := "low"
	switch {
	case len(allIndicators) >= 2:
		confidence = "high"
	case len(allIndicators) == 1:
		confidence = "medium"
	}

	return Check{
		HasDRM:     hasDRM,
		DRMType:    primary,
		DRMTypes:   allTypes,
		Indicators: allIndicators,
		Confidence: confidence,
	}
}

func scanPatterns(haystack, label string) Result {
	var indicators []string
	var types []Type
	for drmType, regexes := range patterns {
		for _, p := range regexes {
			if p.MatchString(haystack) {
				types = append(types, drmType)
				indicators = append(indicators, label)
				break
			}
		}
	}
	types = dedupTypes(types)
	res := Result{HasDRM: len(indicators) > 0, Indicators: indicators, DRMTypes: types}
	if len(types) > 0 {
		res.DRMType = types[0]
	}
	return res
}

func scanPatternsAll(haystack, label string) Result {
	var indicators []string
	var types []Type
	for drmType, regexes := range patterns {
		for _, p := range regexes {
			if n := len(p.FindAllString(haystack, -1)); n > 0 {
				types = append(types, drmType)
				indicators = append(indicators, label)
			}
		}
	}
	return Result{Indicators: indicators, DRMTypes: types}
}

func dedupTypes(types []Type) []Type {
	seen := make(map[Type]bool)
	var out []Type
	for _, t := range types {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
