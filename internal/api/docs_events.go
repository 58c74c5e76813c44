package api

const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event Stream · Tab Titler</title>
  <style>
    *, *::before, *::after { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    a:hover { text-decoration: underline; }
    nav {
      background: #161b22;
      border-bottom: 1px solid #30363d;
      padding: 0 24px;
      height: 48px;
      display: flex;
      align-items: center;
      gap: 24px;
    }
    nav .brand { font-weight: 600; font-size: 15px; color: #e6edf3; }
    main { max-width: 860px; margin: 0 auto; padding: 24px 16px 64px; }
    h1, h2 { color: #e6edf3; }
    h2 { border-bottom: 1px solid #21262d; padding-bottom: 6px; margin-top: 32px; }
    code { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: 12.5px; }
    pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 12px 16px; overflow-x: auto; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #30363d; padding: 6px 10px; text-align: left; vertical-align: top; }
    th { background: #161b22; color: #e6edf3; }
  </style>
</head>
<body>
<nav>
  <span class="brand">Tab Titler</span>
  <a href="/docs">← API Reference</a>
</nav>
<main>
  <h1>Event Stream</h1>
  <p>Focus changes and title writes are published as Server-Sent Events.</p>

  <h2 id="endpoint">Endpoint</h2>
  <pre><code>GET /events?feeds=focus,title</code></pre>
  <p>Omit <code>feeds</code> to receive every feed.</p>

  <h2 id="feeds">Feeds</h2>
  <table>
    <thead><tr><th>Feed</th><th>Sent when</th><th>Payload</th></tr></thead>
    <tbody>
      <tr>
        <td><code>focus</code></td>
        <td>The tracked monitored tab changes, or a blur notification is sent.</td>
        <td><code>previous</code>, <code>current</code>, <code>reason</code>, <code>notified</code>, <code>at</code></td>
      </tr>
      <tr>
        <td><code>title</code></td>
        <td>A resolver wrote a new document title.</td>
        <td>The tab's resolver status: <code>tab_id</code>, <code>title</code>, <code>source</code>, <code>passes</code>, ...</td>
      </tr>
    </tbody>
  </table>

  <h2 id="format">Format</h2>
  <pre><code>id: 1f0c6f0e-8a4e-4b8e-9d3c-2b1e7f1d9a52
event: title
data: {"tab_id":"A1B2","title":"Quarterly plan","source":"sidebar","passes":3,"applied":2}</code></pre>
  <p>Idle streams receive a <code>: keep-alive</code> comment every 15 seconds.</p>

  <h2 id="examples">Examples</h2>
  <pre><code>curl -N http://127.0.0.1:8190/events?feeds=title</code></pre>
</main>
</body>
</html>`
