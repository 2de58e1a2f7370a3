package http

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleHomepage serves the submission form.
func (h *APIHandler) HandleHomepage(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := homepageTemplate.Execute(c.Writer, gin.H{"Commands": h.orch.Commands()}); err != nil {
		h.logger.Error("render homepage: %v", err)
		c.AbortWithStatus(http.StatusInternalServerError)
	}
}

var homepageTemplate = template.Must(template.New("homepage").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>OAPE Agent</title>
<style>
:root { --bg: #0d1117; --surface: #161b22; --border: #30363d; --text: #c9d1d9;
        --muted: #8b949e; --accent: #58a6ff; --ok: #3fb950; --err: #f85149; --warn: #d29922; }
* { box-sizing: border-box; margin: 0; padding: 0; }
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Helvetica, Arial, sans-serif;
       background: var(--bg); color: var(--text); line-height: 1.6; }
.container { max-width: 900px; margin: 0 auto; padding: 2rem; }
header { text-align: center; margin-bottom: 2rem; padding-bottom: 1.5rem; border-bottom: 1px solid var(--border); }
h1 { font-size: 2rem; font-weight: 600; }
.subtitle { color: var(--muted); }
.form-group { margin-bottom: 1.5rem; }
label { display: block; margin-bottom: 0.5rem; font-weight: 500; }
select, input, textarea { width: 100%; padding: 0.75rem; background: var(--surface);
  border: 1px solid var(--border); border-radius: 6px; color: var(--text); font-size: 1rem; }
select:focus, input:focus, textarea:focus { outline: none; border-color: var(--accent); }
button { background: var(--accent); color: #fff; border: none; padding: 0.75rem 1.5rem;
  border-radius: 6px; font-size: 1rem; cursor: pointer; }
button:disabled { opacity: 0.6; cursor: not-allowed; }
#output { margin-top: 2rem; padding: 1rem; background: var(--surface); border: 1px solid var(--border);
  border-radius: 6px; font-family: monospace; font-size: 0.875rem; white-space: pre-wrap;
  max-height: 500px; overflow-y: auto; }
.status { display: inline-block; padding: 0.25rem 0.5rem; border-radius: 4px;
  font-size: 0.75rem; text-transform: uppercase; }
.status-running { background: var(--warn); color: #000; }
.status-success { background: var(--ok); color: #000; }
.status-failed { background: var(--err); color: #fff; }
</style>
</head>
<body>
<div class="container">
<header>
<h1>OAPE Agent</h1>
<p class="subtitle">Run a command against a repository checkout</p>
</header>
<form id="commandForm">
<div class="form-group">
<label for="command">Command</label>
<select id="command" name="command" required>
{{range .Commands}}<option value="{{.Name}}">{{.Name}} &mdash; {{.Description}}</option>
{{end}}</select>
</div>
<div class="form-group">
<label for="prompt">Prompt</label>
<textarea id="prompt" name="prompt" rows="3" required
  placeholder="Describe the task or paste an enhancement proposal URL"></textarea>
</div>
<div class="form-group">
<label for="working_dir">Working Directory (optional)</label>
<input type="text" id="working_dir" name="working_dir" placeholder="/path/to/repo">
</div>
<button type="submit" id="submitBtn">Run</button>
<span id="statusBadge" style="margin-left: 1rem;"></span>
</form>
<div id="output"></div>
</div>
<script>
const form = document.getElementById('commandForm');
const output = document.getElementById('output');
const submitBtn = document.getElementById('submitBtn');
const statusBadge = document.getElementById('statusBadge');

form.addEventListener('submit', async (e) => {
  e.preventDefault();
  const command = document.getElementById('command').value;
  const prompt = document.getElementById('prompt').value;
  const working_dir = document.getElementById('working_dir').value;

  output.textContent = 'Starting...\n';
  submitBtn.disabled = true;
  statusBadge.innerHTML = '<span class="status status-running">Running</span>';

  try {
    const res = await fetch('/submit', {
      method: 'POST',
      headers: { 'Content-Type': 'application/json' },
      body: JSON.stringify({ command, prompt, working_dir })
    });
    if (!res.ok) {
      const err = await res.json();
      throw new Error(err.detail || 'Submission failed');
    }
    const { job_id } = await res.json();
    output.textContent += 'Job ID: ' + job_id + '\n\n';

    const es = new EventSource('/stream/' + job_id);
    es.addEventListener('turn', (e) => {
      const ev = JSON.parse(e.data);
      const t = ev.turn;
      if (t.kind === 'assistant_text') output.textContent += t.text + '\n';
      else if (t.kind === 'tool_request') output.textContent += '[tool: ' + t.name + ']\n';
      else if (t.kind === 'tool_result') output.textContent += '[result: ' + (t.output || '').substring(0, 200) + ']\n';
      output.scrollTop = output.scrollHeight;
    });
    es.addEventListener('complete', (e) => {
      const result = JSON.parse(e.data);
      es.close();
      submitBtn.disabled = false;
      if (result.status === 'completed') {
        statusBadge.innerHTML = '<span class="status status-success">Completed</span>';
        output.textContent += '\n=== COMPLETE ===\n';
      } else {
        statusBadge.innerHTML = '<span class="status status-failed">Failed</span>';
        output.textContent += '\n=== FAILED ===\n' + (result.error || '') + '\n';
      }
    });
    es.onerror = () => {
      es.close();
      submitBtn.disabled = false;
      statusBadge.innerHTML = '<span class="status status-failed">Error</span>';
    };
  } catch (err) {
    output.textContent += 'Error: ' + err.message + '\n';
    submitBtn.disabled = false;
    statusBadge.innerHTML = '<span class="status status-failed">Error</span>';
  }
});
</script>
</body>
</html>
`))
