package goofish

import (
	"regexp"

	"github.com/fleamkt/watchdog/internal/market"
)

// classRule maps an upstream signal to an error kind. Rules are checked in
// order against the mtop ret code and the raw response body; the first match
// wins. All site-specific phrases (including the Chinese block/expiry
// messages) live here so the polling loop only ever sees the kind.
type classRule struct {
	Kind    market.ErrorKind
	Pattern *regexp.Regexp
}

var classRules = []classRule{
	// Token rejected or expired.
	{market.KindAuth, regexp.MustCompile(`FAIL_SYS_TOKEN_EXOIRED|FAIL_SYS_TOKEN_EXPIRED|FAIL_SYS_TOKEN_EMPTY|FAIL_SYS_ILLEGAL_ACCESS|令牌过期|令牌为空|(?i)token.*(expired|empty|invalid)`)},
	{market.KindAuth, regexp.MustCompile(`FAIL_SYS_SESSION_EXPIRED|session.*(过期|失效)|(?i)not.?login|请先登录`)},

	// Anti-crawl wall: captcha, punish page, traffic rejection.
	{market.KindBlocked, regexp.MustCompile(`RGV587_ERROR|FAIL_SYS_USER_VALIDATE|(?i)captcha|punish|哎哟喂.?被挤爆|访问受限|操作太频繁`)},

	// Upstream hiccups that a short sleep usually clears.
	{market.KindTransient, regexp.MustCompile(`FAIL_SYS_SERVICE_TIMEOUT|FAIL_SYS_TRAFFIC_LIMIT|(?i)service.*(timeout|unavailable)|系统繁忙`)},
}

// classifyRet classifies a non-success mtop ret string plus the raw body.
func classifyRet(ret string, body []byte) market.ErrorKind {
	text := ret + "\n" + string(body)
	for _, r := range classRules {
		if r.Pattern.MatchString(text) {
			return r.Kind
		}
	}
	return market.KindTransient
}

// classifyStatus classifies an HTTP status code before the body is consulted.
// Returns KindOther when the status alone is not decisive.
func classifyStatus(status int) market.ErrorKind {
	switch {
	case status == 401:
		return market.KindAuth
	case status == 403 || status == 429:
		return market.KindBlocked
	case status >= 500:
		return market.KindTransient
	default:
		return market.KindOther
	}
}
