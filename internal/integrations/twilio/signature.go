package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries the request signature on provider webhooks.
const SignatureHeader = "X-Twilio-Signature"

// ValidateSignature checks a webhook signature: base64(HMAC-SHA1(authToken,
// url + sorted key/value pairs of the POST form)).
func ValidateSignature(authToken, requestURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	expected := ComputeSignature(authToken, requestURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ComputeSignature returns the signature the provider would send for the request.
func ComputeSignature(authToken, requestURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(requestURL)
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
