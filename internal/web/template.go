package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/lc-interface-test/internal/logic"
	"github.com/sweeney/lc-interface-test/internal/status"
	"github.com/sweeney/lc-interface-test/internal/thermal"
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
	"phaseClass": func(p logic.Phase) string {
		switch {
		case p == logic.PhaseFaulted:
			return "fault"
		case p.Running():
			return "running"
		default:
			return "idle"
		}
	},
	"limit": func(n int) string {
		if n == 0 {
			return "unlimited"
		}
		return fmt.Sprint(n)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Config.App}}</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.running { color: green; font-weight: bold; }
.idle { color: #888; }
.fault { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>{{.Config.App}}{{if .Config.Simulation}} (simulation){{end}}<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Run</h2>
<table>
<tr><th>Phase</th><td id="phase" class="{{phaseClass .Run.Phase}}">{{.Run.Phase}}</td></tr>
<tr><th>Cycle</th><td id="cycle">{{.Run.Cycle}}</td></tr>
<tr><th>Operator</th><td>{{if .Run.Operator}}{{.Run.Operator}}{{else}}-{{end}}</td></tr>
<tr><th>Elapsed</th><td>{{uptime .Run.Elapsed}}</td></tr>
{{if .Run.LastFault}}<tr><th>Last fault</th><td class="fault">{{.Run.LastFault}}</td></tr>{{end}}
</table>

<h2>Probes</h2>
<table>
<tr><th>Probe</th><td>Reading / Limit</td></tr>
{{range .Probes}}<tr><th>{{.Name}}</th><td class="{{.Class}}">{{.Value}} / {{printf "%.1f" .Limit}}C</td></tr>
{{end}}</table>

<h2>Next run</h2>
<table>
<tr><th>Raise</th><td>{{.NextRun.RaiseSeconds}}s</td></tr>
<tr><th>Lower</th><td>{{.NextRun.LowerSeconds}}s</td></tr>
<tr><th>Dwell</th><td>{{.NextRun.DwellSeconds}}s</td></tr>
<tr><th>Max cycles</th><td>{{limit .NextRun.MaxCycles}}</td></tr>
<tr><th>Max minutes</th><td>{{limit .NextRun.MaxMinutes}}</td></tr>
</table>

<h2>Lifetime</h2>
<table>
<tr><th>Cycles</th><td>{{.Counts.TotalCycles}}</td></tr>
<tr><th>Runs</th><td>{{.Counts.TotalRuns}}</td></tr>
{{if .Counts.LastRunAt}}<tr><th>Last run</th><td>{{.Counts.LastRunAt.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Version</th><td>{{.Config.Version}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Probe poll</th><td>{{.Config.TempIntervalMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Jobs dropped</th><td>{{.QueueDropped}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/events.json">Events</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var phaseEl = document.getElementById("phase");
  var cycleEl = document.getElementById("cycle");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(m) {
      try {
        var msg = JSON.parse(m.data);
        if (msg.type === "status") {
          var run = msg.data.status.run;
          phaseEl.textContent = run.phase;
          phaseEl.className = run.phase === "FAULTED" ? "fault" : run.running ? "running" : "idle";
          cycleEl.textContent = run.cycle;
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

type probeRow struct {
	Name  string
	Value string
	Limit float64
	Class string
}

func probeRows(snap status.Snapshot) []probeRow {
	byName := make(map[string]thermal.Reading, len(snap.Probes))
	for _, r := range snap.Probes {
		byName[r.Name] = r
	}
	rows := make([]probeRow, 0, len(thermal.ProbeNames))
	for _, name := range thermal.ProbeNames {
		limit := snap.Limits.For(name)
		row := probeRow{Name: name, Value: "--", Limit: limit, Class: "idle"}
		if r, ok := byName[name]; ok {
			switch {
			case !r.Valid:
				row.Value, row.Class = "no reading", "fault"
			case r.Value >= limit:
				row.Value, row.Class = fmt.Sprintf("%.1fC", r.Value), "fault"
			default:
				row.Value, row.Class = fmt.Sprintf("%.1fC", r.Value), "running"
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Probes []probeRow
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Probes:   probeRows(snap),
	}
	return indexTmpl.Execute(w, data)
}
