// Package urlutil provides the URL canonicalization helper external
// collaborator described by the crawler's §6 interfaces: Canonicalize,
// ExtractHost and the closed tracking-parameter set.
package urlutil

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParams is the closed set of query-string keys stripped during
// canonicalization. Initialized once at process start and never mutated.
var trackingParams = buildTrackingParamSet()

func buildTrackingParamSet() map[string]struct{} {
	names := []string{
		"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
		"utm_id", "utm_name", "utm_reader", "utm_social", "utm_social-type",
		"fbclid", "gclid", "gclsrc", "dclid", "msclkid", "twclid", "igshid",
		"mc_cid", "mc_eid", "mkt_tok", "vero_id", "vero_conv",
		"_hsenc", "_hsmi", "hsCtaTracking", "ref", "ref_src", "ref_url",
		"spm", "scm", "src", "source",
		"yclid", "ysclid", "epik", "wbraid", "gbraid",
		"oly_anon_id", "oly_enc_id", "rb_clickid", "s_cid",
		"ncid", "cmpid", "cvosrc", "cvo_campaign", "cvo_creative",
		"pk_campaign", "pk_kwd", "pk_source", "pk_medium", "pk_content",
		"piwik_campaign", "piwik_kwd",
		"trk", "trkCampaign", "campaign_id", "campaignid", "adgroupid", "adid",
		"affiliate", "affiliate_id", "aff_id", "aff_sub",
		"zanpid", "sscid", "share", "shareid", "si",
		"icid", "cid", "ito", "intcmp", "wt_mc", "wt_zmc",
		"__twitter_impression", "guccounter", "guce_referrer", "guce_referrer_sig",
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}

// IsTrackingParam reports whether name belongs to the closed tracking
// parameter set stripped during canonicalization.
func IsTrackingParam(name string) bool {
	_, ok := trackingParams[strings.ToLower(name)]
	return ok
}

// Canonicalize applies a deterministic normalization to a URL string,
// producing the canonical form used for frontier de-duplication:
//   - scheme lowercased
//   - host lowercased, "www." stripped, default port removed
//   - path normalized with collapsed slashes
//   - query parameters sorted with tracking parameters removed
//   - fragment dropped
//
// Canonicalize is pure, deterministic and idempotent:
// Canonicalize(Canonicalize(u)) == Canonicalize(u).
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	port := u.Port()
	if port != "" && !isDefaultPort(u.Scheme, port) {
		host = host + ":" + port
	}
	u.Host = host

	u.Path = collapseSlashes(u.Path)
	if u.Path == "" {
		u.Path = "/"
	}

	u.RawQuery = sortedFilteredQuery(u.RawQuery)
	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false

	return u.String(), nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

func collapseSlashes(path string) string {
	if path == "" {
		return path
	}
	var b strings.Builder
	prevSlash := false
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sortedFilteredQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if IsTrackingParam(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	q := url.Values{}
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return q.Encode()
}

// ExtractHost returns the lowercased, www-stripped host portion of rawURL,
// used for comparison purposes (domain restriction, per-domain state). The
// original URL (with its original host casing/www) should be preserved for
// the actual fetch; this helper is for comparisons only.
func ExtractHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	return host, nil
}
