package app

import (
	"msgnotify/internal/eventbus"
	"msgnotify/internal/msgstore"
	logx "msgnotify/pkg/logx"
)

// addrKeys are event data keys holding a message address.
var addrKeys = map[string]bool{"key": true, "address": true, "to": true, "from": true}

func (a *App) logEvent(e eventbus.Event) {
	fields := []logx.Field{logx.String("type", e.Type), logx.Any("data", redactEventData(e.Data))}
	switch e.Type {
	case eventbus.ReplySendFailed:
		a.log.Warn("event", fields...)
	case eventbus.StoreChanged:
		a.log.Trace("event", fields...)
	default:
		a.log.Debug("event", fields...)
	}
}

// redactEventData returns a copy of data safe to log: addresses are masked
// and message bodies are reduced to their length. Subscribers still get
// the original event.
func redactEventData(data any) any {
	switch d := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(d))
		for k, v := range d {
			switch {
			case addrKeys[k]:
				s, _ := v.(string)
				out[k] = logx.MaskAddr(s)
			case k == "body":
				s, _ := v.(string)
				out["body_len"] = len(s)
			default:
				out[k] = v
			}
		}
		return out
	case msgstore.Change:
		d.Address = logx.MaskAddr(d.Address)
		return d
	default:
		return data
	}
}
