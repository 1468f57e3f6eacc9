package schemas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// Fingerprint derives the deterministic cache key for a request from its
// tool, parameters, and target metrics. Key order never influences the hash:
// both maps are walked in sorted key order, and values are rendered through a
// canonical formatter so 1 and 1.0 coming off the wire hash identically.
// Strategy, mode, and confidentiality are deliberately excluded; identical
// searches share one cache slot regardless of how they were requested.
func Fingerprint(tool string, params map[string]any, targets map[string]float64) string {
	h := sha256.New()
	fmt.Fprintf(h, "tool\x00%s\x00", tool)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "p\x00%s\x00%s\x00", k, canonicalValue(params[k]))
	}

	tkeys := make([]string, 0, len(targets))
	for k := range targets {
		tkeys = append(tkeys, k)
	}
	sort.Strings(tkeys)
	for _, k := range tkeys {
		fmt.Fprintf(h, "t\x00%s\x00%s\x00", k, strconv.FormatFloat(targets[k], 'g', -1, 64))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// canonicalValue renders a parameter value into a stable textual form.
// JSON decoding produces float64 for every number, but requests built in
// process may carry native ints; both normalize to the same float rendering.
func canonicalValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(t)
	case string:
		return "s:" + t
	case int:
		return canonicalInt(int64(t))
	case int64:
		return canonicalInt(t)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 64)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// canonicalInt renders integers that float64 can hold exactly through the
// same float formatter as decoded JSON numbers, so 1 and 1.0 still collapse
// to one key. Larger magnitudes keep their exact digits; routing them through
// float64 would round distinct values onto the same rendering.
func canonicalInt(v int64) string {
	if v >= -(1<<53) && v <= 1<<53 {
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	}
	return strconv.FormatInt(v, 10)
}

// RequestFingerprint is a convenience wrapper over Fingerprint for a full
// request.
func RequestFingerprint(r OptimizationRequest) string {
	return Fingerprint(r.Tool, r.Parameters, r.Targets)
}
