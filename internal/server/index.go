package server

// indexHTML is a minimal status page. The full dashboard asset ships
// separately and talks to the same API.
const indexHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>clawflow</title></head>
<body>
<h1>clawflow</h1>
<p>Orchestrator dashboard API. Endpoints: <code>/api/health</code>,
<code>/api/runs</code>, <code>/api/events</code>.</p>
<pre id="log"></pre>
<script>
const log = document.getElementById('log');
const es = new EventSource('/api/events');
es.onmessage = (e) => { log.textContent += e.data + "\n"; };
</script>
</body>
</html>
`
