package api

import (
	"net/http"
)

const operatorUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>soundstage</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: monospace;
            background: #1c1917;
            color: #e7e5e4;
            height: 100vh;
            display: grid;
            grid-template-rows: auto auto 1fr auto;
        }
        header, .controls, footer {
            background: #292524;
            padding: 10px 20px;
            display: flex;
            gap: 10px;
            align-items: center;
        }
        header { justify-content: space-between; border-bottom: 1px solid #44403c; }
        header h1 { font-size: 16px; font-weight: normal; }
        #link { padding: 4px 10px; border-radius: 4px; font-size: 12px; }
        #link.connected { background: #14532d; color: #86efac; }
        #link.disconnected { background: #7f1d1d; color: #fca5a5; }
        #position { color: #fbbf24; }
        input {
            background: #1c1917;
            border: 1px solid #44403c;
            border-radius: 4px;
            padding: 6px 10px;
            color: #e7e5e4;
            font-family: monospace;
            width: 160px;
        }
        button {
            background: #b45309;
            border: none;
            border-radius: 4px;
            padding: 6px 14px;
            color: #fff;
            font-family: monospace;
            cursor: pointer;
        }
        button.step { background: #15803d; font-size: 14px; padding: 8px 24px; }
        button:disabled { background: #44403c; cursor: not-allowed; }
        #result { font-size: 12px; }
        #result.error { color: #fca5a5; }
        main { display: grid; grid-template-columns: 1fr 1fr; overflow: hidden; }
        #art { display: flex; align-items: center; justify-content: center; background: #0c0a09; }
        #art img { max-width: 100%; max-height: 100%; }
        #events { overflow-y: auto; padding: 10px; }
        .event { padding: 4px 8px; margin-bottom: 2px; font-size: 12px; display: flex; gap: 10px; }
        .event.level-warn { color: #fcd34d; }
        .event.level-error { color: #fca5a5; }
        .ts { color: #78716c; min-width: 80px; }
        .name { color: #93c5fd; min-width: 130px; }
        footer { border-top: 1px solid #44403c; font-size: 11px; color: #78716c; }
    </style>
</head>
<body>
    <header>
        <h1>soundstage</h1>
        <span id="position">idle</span>
        <span id="link" class="disconnected">disconnected</span>
    </header>
    <div class="controls">
        <button class="step" id="stepBtn" onclick="command('/operator/step')">Step</button>
        <input type="text" id="scene" placeholder="scene id">
        <button onclick="withScene('/operator/start')">Start</button>
        <button onclick="withScene('/operator/jump')">Jump</button>
        <span id="result"></span>
    </div>
    <main>
        <div id="art"><img id="frame" alt=""></div>
        <div id="events"></div>
    </main>
    <footer><span id="count">0</span>&nbsp;events | /ws/events</footer>

    <script>
        const eventsDiv = document.getElementById('events');
        const linkEl = document.getElementById('link');
        const positionEl = document.getElementById('position');
        const resultEl = document.getElementById('result');
        const frameEl = document.getElementById('frame');
        let count = 0;

        function text(s) {
            const span = document.createElement('span');
            span.textContent = s;
            return span;
        }

        function render(e) {
            const div = document.createElement('div');
            div.className = 'event level-' + e.level;
            const ts = text(new Date(e.ts).toLocaleTimeString('en-US', { hour12: false }));
            ts.className = 'ts';
            const name = text(e.event);
            name.className = 'name';
            div.append(ts, name, text(e.fields ? JSON.stringify(e.fields) : (e.msg || '')));
            eventsDiv.appendChild(div);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
            while (eventsDiv.children.length > 500) eventsDiv.removeChild(eventsDiv.firstChild);
            document.getElementById('count').textContent = ++count;

            if (e.event === 'art.show') frameEl.src = '/art/current?t=' + Date.now();
            if (e.event.startsWith('scene.') || e.event.startsWith('operator.') || e.event === 'cue.jump') refresh();
        }

        function refresh() {
            fetch('/state').then(r => r.json()).then(function(st) {
                positionEl.textContent = st.state === 'active'
                    ? st.scene_id + ' #' + st.index + ' ' + (st.object_id || '')
                    : 'idle';
            }).catch(function() {});
        }

        function show(ok, msg) {
            resultEl.className = ok ? '' : 'error';
            resultEl.textContent = msg;
        }

        function command(path, body) {
            fetch(path, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify(body || {})
            })
            .then(r => r.json())
            .then(d => show(d.ok, d.ok ? '' : d.error))
            .catch(() => show(false, 'network error'));
        }

        function withScene(path) {
            const scene = document.getElementById('scene').value.trim();
            if (!scene) { show(false, 'enter a scene id'); return; }
            command(path, { scene: scene });
        }

        document.addEventListener('keydown', function(e) {
            if (e.target.tagName !== 'INPUT' && (e.key === ' ' || e.key === 'n')) {
                e.preventDefault();
                command('/operator/step');
            }
        });

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(proto + '//' + location.host + '/ws/events');
            ws.onopen = function() { linkEl.className = 'connected'; linkEl.textContent = 'connected'; refresh(); };
            ws.onmessage = function(msg) { try { render(JSON.parse(msg.data)); } catch (err) { console.error(err); } };
            ws.onclose = function() {
                linkEl.className = 'disconnected';
                linkEl.textContent = 'disconnected';
                setTimeout(connect, 3000);
            };
        }
        connect();
    </script>
</body>
</html>`

// uiHandler serves the operator page at the root path only.
func (s *Server) uiHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(operatorUIHTML))
}
