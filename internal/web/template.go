package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/muteq/mute-agent/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"db": func(v float64) string {
		return fmt.Sprintf("%.1f dB", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Config.DeviceName}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.connected { color: green; }
.disconnected { color: red; }
.loud { color: red; font-weight: bold; }
</style>
</head>
<body>
<h1>{{.Config.DeviceName}}</h1>

<h2>Noise</h2>
<table>
<tr><th>Last window peak</th><td{{if ge .LastPeak .Config.NoiseFloor}} class="loud"{{end}}>{{db .LastPeak}}</td></tr>
<tr><th>Last sample</th><td>{{db .LastSample}}</td></tr>
<tr><th>Window</th><td>{{.Config.WindowSeconds}}s</td></tr>
<tr><th>Noise floor</th><td>{{db .Config.NoiseFloor}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Registered</th><td>{{if .Registered}}yes{{else}}no{{end}}</td></tr>
{{if not .LastRealtimeSuccess.IsZero}}<tr><th>Last delivery</th><td>{{.LastRealtimeSuccess.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
</table>

<h2>Queues</h2>
<table>
<tr><th>HTTP retry</th><td>{{.HTTPQueueDepth}}</td></tr>
<tr><th>MQTT offline</th><td>{{.DurableQueueDepth}}</td></tr>
</table>

<h2>Counters</h2>
<table>
<tr><th>Realtime sent</th><td>{{.Counts.RealtimeSent}}</td></tr>
<tr><th>Threshold sent</th><td>{{.Counts.ThresholdSent}}</td></tr>
<tr><th>Heartbeats</th><td>{{.Counts.Heartbeats}}</td></tr>
<tr><th>Read errors</th><td>{{.Counts.ReadErrors}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> &middot; <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but the template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
