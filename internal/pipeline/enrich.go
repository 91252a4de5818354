package pipeline

import (
	"net/url"

	v1 "github.com/theburgerllc/nycayen-telemetry/internal/api/v1"
	"github.com/theburgerllc/nycayen-telemetry/internal/attribution"
)

func touchProperties(tp attribution.Touchpoint) map[string]interface{} {
	m := map[string]interface{}{
		"source":    tp.Source,
		"medium":    tp.Medium,
		"campaign":  tp.Campaign,
		"timestamp": tp.Timestamp,
	}
	if tp.Content != "" {
		m["content"] = tp.Content
	}
	if tp.Term != "" {
		m["term"] = tp.Term
	}
	return m
}

// providerProperties are the event properties plus identity and page
// context. Event properties win on key collisions.
func providerProperties(ev v1.Event) map[string]interface{} {
	out := make(map[string]interface{}, len(ev.Properties)+5)
	out["event_id"] = ev.ID
	out["visitor_id"] = ev.VisitorID
	out["session_id"] = ev.SessionID
	out["timestamp"] = ev.Timestamp
	if ev.PageURL != "" {
		out["page_url"] = ev.PageURL
	}
	for k, v := range ev.Properties {
		out[k] = v
	}
	return out
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
