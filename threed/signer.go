package threed

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TC3-HMAC-SHA256 请求签名。规范请求串覆盖 content-type、host 与
// x-tc-action 三个头，密钥按 日期 → 服务 → tc3_request 逐级派生。
const (
	algorithm   = "TC3-HMAC-SHA256"
	service     = "ai3d"
	scopeSuffix = "tc3_request"
	contentType = "application/json"

	// signedHeaders 参与签名的头列表，按字典序排列
	signedHeaders = "content-type;host;x-tc-action"
)

// buildAuthorization 为一次厂商调用生成 Authorization 头。
// now 必须与请求头里的 X-TC-Timestamp 来自同一时刻。
func buildAuthorization(secretID, secretKey, host, action string, payload []byte, now time.Time) string {
	timestamp := now.Unix()
	date := now.UTC().Format("2006-01-02")

	canonicalRequest := buildCanonicalRequest(host, action, payload)
	stringToSign := buildStringToSign(canonicalRequest, date, timestamp)
	signature := hex.EncodeToString(hmacSHA256(deriveSigningKey(secretKey, date), []byte(stringToSign)))

	return fmt.Sprintf("%s Credential=%s/%s/%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, secretID, date, service, scopeSuffix, signedHeaders, signature)
}

// buildCanonicalRequest 拼接规范请求串。POST 到根路径，无查询串，
// 头名小写，action 值同样转小写。
func buildCanonicalRequest(host, action string, payload []byte) string {
	canonicalHeaders := fmt.Sprintf("content-type:%s\nhost:%s\nx-tc-action:%s\n",
		contentType, host, strings.ToLower(action))

	return strings.Join([]string{
		http.MethodPost,
		"/",
		"",
		canonicalHeaders,
		signedHeaders,
		sha256Hex(payload),
	}, "\n")
}

// buildStringToSign 拼接待签串：算法、时间戳、凭据范围、规范请求摘要。
func buildStringToSign(canonicalRequest, date string, timestamp int64) string {
	scope := fmt.Sprintf("%s/%s/%s", date, service, scopeSuffix)

	return strings.Join([]string{
		algorithm,
		strconv.FormatInt(timestamp, 10),
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")
}

// deriveSigningKey 按 TC3 规则派生签名密钥。
func deriveSigningKey(secretKey, date string) []byte {
	keyDate := hmacSHA256([]byte("TC3"+secretKey), []byte(date))
	keyService := hmacSHA256(keyDate, []byte(service))
	return hmacSHA256(keyService, []byte(scopeSuffix))
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
