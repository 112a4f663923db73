package origin

import (
	"math/rand"
	"net/http"
	"net/url"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0",
}

func RandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// BrowserHeaders makes an upstream request look like a media element fetch
// from a browser page hosted on the target origin.
func BrowserHeaders(target string) http.Header {
	header := http.Header{}
	header.Set("User-Agent", RandomUserAgent())

	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return header
	}

	header.Set("Accept", "*/*")
	header.Set("Accept-Encoding", "identity;q=1, *;q=0")
	header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	header.Set("Connection", "keep-alive")
	header.Set("Origin", u.Scheme+"://"+u.Host)
	header.Set("Referer", target)
	header.Set("Sec-Fetch-Dest", "video")
	header.Set("Sec-Fetch-Mode", "no-cors")
	header.Set("Sec-Fetch-Site", "cross-site")
	header.Set("Pragma", "no-cache")
	header.Set("Cache-Control", "no-cache")
	return header
}

// MergeHeaders returns a new header set, values from overrides replace the
// ones from base.
func MergeHeaders(base, overrides http.Header) http.Header {
	merged := base.Clone()
	if merged == nil {
		merged = http.Header{}
	}

	for key, values := range overrides {
		merged[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}

	return merged
}
