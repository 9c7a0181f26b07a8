package drm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectInURLWidevine(t *testing.T) {
	res := DetectInURL("https://cdn.example.com/license/widevine/proxy")
	assert.True(t, res.HasDRM)
	assert.Equal(t, TypeWidevine, res.DRMType)
}

func TestDetectInURLNoMatch(t *testing.T) {
	res := DetectInURL("https://cdn.example.com/stream/segment001.ts")
	assert.False(t, res.HasDRM)
}

func TestDetectInURLEmpty(t *testing.T) {
	res := DetectInURL("")
	assert.False(t, res.HasDRM)
}

func TestIsPublicAES128EncryptionPlutoTV(t *testing.T) {
	line := `#EXT-X-KEY:METHOD=AES-128,URI="https://siloh.pluto.tv/core/key/abc123"`
	assert.True(t, IsPublicAES128Encryption(Config{}, line, ""))
}

func TestIsPublicAES128EncryptionSimpleKeyFile(t *testing.T) {
	line := `#EXT-X-KEY:METHOD=AES-128,URI="https://cdn.example.com/content/encryption.key"`
	assert.True(t, IsPublicAES128Encryption(Config{}, line, ""))
}

func TestIsPublicAES128EncryptionUnknownDRMLikeURI(t *testing.T) {
	line := `#EXT-X-KEY:METHOD=AES-128,URI="https://drm.example.com/widevine/license/get_key"`
	assert.False(t, IsPublicAES128Encryption(Config{}, line, ""))
}

func TestIsPublicAES128EncryptionRequiresAES128Method(t *testing.T) {
	line := `#EXT-X-KEY:METHOD=SAMPLE-AES,URI="https://pluto.tv/key"`
	assert.False(t, IsPublicAES128Encryption(Config{}, line, ""))
}

func TestIsPublicAES128EncryptionConfigExtendedService(t *testing.T) {
	line := `#EXT-X-KEY:METHOD=AES-128,URI="https://cdn.myoperator.example/keys/get?id=1"`
	assert.False(t, IsPublicAES128Encryption(Config{}, line, ""))

	cfg := Config{PublicServices: []string{"myoperator.example"}}
	assert.True(t, IsPublicAES128Encryption(cfg, line, ""))
}

func TestDetectInContentHLSEncryptionExcludesPublicAES128(t *testing.T) {
	content := "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"https://pluto.tv/key.bin\"\nsegment0.ts\n"
	res := DetectInContent(Config{}, content, "m3u8")
	assert.False(t, res.HasDRM)
}

func TestDetectInContentHLSEncryptionFlagsUnknownKeyServer(t *testing.T) {
	content := "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"https://license.drmvendor.example/v1/key\"\nsegment0.ts\n"
	res := DetectInContent(Config{}, content, "m3u8")
	assert.True(t, res.HasDRM)
	assert.Contains(t, res.DRMTypes, TypeHLSEncrypt)
}

func TestDetectInContentHLSMethodNoneNeverFlagged(t *testing.T) {
	content := "#EXTM3U\n#EXT-X-KEY:METHOD=NONE\nsegment0.ts\n"
	res := DetectInContent(Config{}, content, "m3u8")
	assert.False(t, res.HasDRM)
}

func TestDetectInHeaders(t *testing.T) {
	res := DetectInHeaders(map[string]string{"X-Widevine-License": "1"})
	assert.True(t, res.HasDRM)
	assert.Contains(t, res.DRMTypes, TypeWidevine)
}

func TestDetectInHeadersEmpty(t *testing.T) {
	res := DetectInHeaders(nil)
	assert.False(t, res.HasDRM)
}

func TestDetectInError(t *testing.T) {
	res := DetectInError("403 Forbidden: subscription required")
	assert.True(t, res.HasDRM)
	assert.Equal(t, TypeErrorBased, res.DRMType)
}

func TestDetectInErrorEmpty(t *testing.T) {
	res := DetectInError("")
	assert.False(t, res.HasDRM)
}

func TestComprehensiveConfidenceLevels(t *testing.T) {
	none := Comprehensive(Config{}, "", "", nil, "", "")
	assert.Equal(t, "low", none.Confidence)
	assert.False(t, none.HasDRM)

	one := Comprehensive(Config{}, "https://cdn.example.com/plain/segment.ts", "", nil, "", "")
	assert.Equal(t, "low", one.Confidence)

	medium := Comprehensive(Config{}, "https://cdn.example.com/widevine/license", "", nil, "", "")
	assert.Equal(t, "medium", medium.Confidence)
	assert.True(t, medium.HasDRM)

	high := Comprehensive(Config{}, "https://cdn.example.com/widevine/license", "",
		map[string]string{"X-Widevine-License": "1"}, "", "")
	assert.Equal(t, "high", high.Confidence)
}
