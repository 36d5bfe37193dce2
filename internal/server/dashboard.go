package server

import "net/http"

// dashboardHTML follows /ws and tabulates admission decisions as they arrive.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Bottlegate Dashboard</title>
<style>
  body { font: 14px/1.4 system-ui, sans-serif; margin: 24px; color: #1f2328; background: #f6f8fa; }
  header { display: flex; align-items: baseline; gap: 16px; }
  h1 { font-size: 20px; margin: 0; }
  #link { font-size: 12px; padding: 2px 8px; border-radius: 10px; background: #ffebe9; color: #cf222e; }
  #link.up { background: #dafbe1; color: #1a7f37; }
  .counts { display: flex; gap: 12px; margin: 16px 0; }
  .counts div { background: #fff; border: 1px solid #d0d7de; border-radius: 6px; padding: 8px 14px; min-width: 110px; }
  .counts b { display: block; font-size: 22px; }
  table { width: 100%; border-collapse: collapse; background: #fff; border: 1px solid #d0d7de; }
  th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #eaeef2; font-family: ui-monospace, monospace; font-size: 12px; }
  th { background: #f6f8fa; font-family: system-ui, sans-serif; }
  td.accept { color: #1a7f37; }
  td.reject { color: #cf222e; }
  td.degraded { color: #9a6700; }
</style>
</head>
<body>
<header>
  <h1>Bottlegate Dashboard</h1>
  <span id="link">offline</span>
  <button onclick="reset()">Reset</button>
</header>
<section class="counts">
  <div>submissions<b id="n-total">0</b></div>
  <div>accepted<b id="n-accept">0</b></div>
  <div>rejected<b id="n-reject">0</b></div>
  <div>escalations<b id="n-escalate">0</b></div>
</section>
<table>
  <thead><tr><th>time</th><th>identities</th><th>verdict</th><th>reason</th><th>stage</th><th>retry</th></tr></thead>
  <tbody id="rows"></tbody>
</table>
<script>
const keep = 250;
const rows = document.getElementById('rows');
let n = {total: 0, accept: 0, reject: 0, escalate: 0};

function text(s) {
  const d = document.createElement('td');
  d.textContent = s == null ? '' : String(s);
  return d;
}

function show() {
  for (const k in n) document.getElementById('n-' + k).textContent = n[k];
}

function reset() {
  n = {total: 0, accept: 0, reject: 0, escalate: 0};
  rows.replaceChildren();
  show();
}

function record(ev) {
  const v = ev.verdict || {};
  n.total++;
  n[v.decision === 'accept' ? 'accept' : 'reject']++;
  if (ev.escalation) n.escalate++;
  show();

  const verdict = text(v.degraded ? 'accept (degraded)' : v.decision);
  verdict.className = v.degraded ? 'degraded' : v.decision;
  const tr = document.createElement('tr');
  tr.append(
    text(new Date(ev.time).toISOString().slice(11, 19)),
    text((ev.identities || []).join(', ')),
    verdict,
    text(v.limiter ? v.reason + ' / ' + v.limiter : v.reason),
    text(ev.stage),
    text(v.retry_after ? Math.ceil(v.retry_after / 1e9) + 's' : ''));
  rows.prepend(tr);
  while (rows.rows.length > keep) rows.deleteRow(-1);
}

function dial() {
  const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
  const link = document.getElementById('link');
  ws.onopen = () => { link.textContent = 'live'; link.className = 'up'; };
  ws.onclose = () => { link.textContent = 'offline'; link.className = ''; setTimeout(dial, 2000); };
  ws.onmessage = (m) => record(JSON.parse(m.data));
}

dial();
</script>
</body>
</html>`

func handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}
