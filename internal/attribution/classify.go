package attribution

import (
	"net/url"
	"strings"
)

// Placeholder values used when a channel dimension is not known.
const (
	valueDirect = "(direct)"
	valueNone   = "(none)"
	valueNotSet = "(not set)"
)

// searchEngines map a host label to the canonical source name.
var searchEngines = map[string]string{
	"google":     "google",
	"bing":       "bing",
	"yahoo":      "yahoo",
	"duckduckgo": "duckduckgo",
	"baidu":      "baidu",
	"yandex":     "yandex",
	"ecosia":     "ecosia",
}

var socialNetworks = map[string]string{
	"facebook":  "facebook",
	"instagram": "instagram",
	"twitter":   "twitter",
	"linkedin":  "linkedin",
	"pinterest": "pinterest",
	"tiktok":    "tiktok",
	"reddit":    "reddit",
	"youtube":   "youtube",
}

// Short-link and rebranded hosts that do not carry the network's name.
var socialHosts = map[string]string{
	"t.co":     "twitter",
	"x.com":    "twitter",
	"lnkd.in":  "linkedin",
	"fb.me":    "facebook",
	"youtu.be": "youtube",
	"pin.it":   "pinterest",
}

// Click-id parameters that imply a paid channel when no utm_source is present.
var clickIDs = []struct {
	param  string
	source string
	medium string
}{
	{"gclid", "google", "cpc"},
	{"msclkid", "bing", "cpc"},
	{"fbclid", "facebook", "paid_social"},
}

// Classify derives a touchpoint from entry signals. ok is false when the
// navigation is internal (referrer on the site's own host) and must not
// produce a touchpoint. Classify is a pure function of its inputs.
func Classify(sig Signals, siteHost string) (tp Touchpoint, ok bool) {
	landing, _ := url.Parse(sig.URL)
	page := "/"
	var query url.Values
	if landing != nil {
		if landing.Path != "" {
			page = landing.Path
		}
		query = landing.Query()
		if siteHost == "" {
			siteHost = landing.Hostname()
		}
	}

	tp = Touchpoint{Page: page, Referrer: sig.Referrer}

	if src := strings.TrimSpace(query.Get("utm_source")); src != "" {
		tp.Source = strings.ToLower(src)
		tp.Medium = orDefault(strings.ToLower(query.Get("utm_medium")), valueNotSet)
		tp.Campaign = orDefault(query.Get("utm_campaign"), valueNotSet)
		tp.Content = query.Get("utm_content")
		tp.Term = query.Get("utm_term")
		return tp, true
	}

	for _, c := range clickIDs {
		if query.Get(c.param) != "" {
			tp.Source = c.source
			tp.Medium = c.medium
			tp.Campaign = orDefault(query.Get("utm_campaign"), valueNotSet)
			return tp, true
		}
	}

	host := referrerHost(sig.Referrer)
	if host == "" {
		tp.Source = valueDirect
		tp.Medium = valueNone
		tp.Campaign = valueNone
		return tp, true
	}
	if siteHost != "" && stripWWW(strings.ToLower(siteHost)) == host {
		return Touchpoint{}, false
	}

	tp.Campaign = valueNone
	if source, ok := lookupLabel(host, searchEngines); ok {
		tp.Source = source
		tp.Medium = "organic"
		return tp, true
	}
	if source, ok := socialHosts[host]; ok {
		tp.Source = source
		tp.Medium = "social"
		return tp, true
	}
	if source, ok := lookupLabel(host, socialNetworks); ok {
		tp.Source = source
		tp.Medium = "social"
		return tp, true
	}

	tp.Source = host
	tp.Medium = "referral"
	return tp, true
}

// referrerHost returns the lowercase host of a referrer without "www.",
// or "" when the referrer is empty or unparsable.
func referrerHost(referrer string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return stripWWW(strings.ToLower(u.Hostname()))
}

func stripWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}

// lookupLabel matches any dot-separated label of host against table, so
// "www.google.co.uk" and "search.yahoo.com" both resolve.
func lookupLabel(host string, table map[string]string) (string, bool) {
	for _, label := range strings.Split(host, ".") {
		if source, ok := table[label]; ok {
			return source, true
		}
	}
	return "", false
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
