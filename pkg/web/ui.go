package web

// uiIndexHTML is the single-page chat UI served at /.
// Sessions are listed in the sidebar; the selected session lives in the page only.
const uiIndexHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>MultiChat</title>
<style>
:root { --bg:#0f1115; --panel:#171a21; --muted:#8a93a6; --fg:#e6e9ef; --accent:#4f8cff; --err:#ff6b6b; }
* { box-sizing: border-box; }
body { margin:0; font-family: system-ui, -apple-system, Segoe UI, Roboto, sans-serif; background:var(--bg); color:var(--fg); display:flex; height:100vh; }
aside { width:260px; background:var(--panel); padding:16px; display:flex; flex-direction:column; gap:12px; border-right:1px solid #232733; }
aside h1 { font-size:18px; margin:0; }
aside select, aside input, aside button { width:100%; padding:8px; border-radius:6px; border:1px solid #2b3040; background:#0f1115; color:var(--fg); }
aside button { background:var(--accent); border:none; cursor:pointer; }
aside button.secondary { background:#2b3040; }
aside label { font-size:12px; color:var(--muted); }
main { flex:1; display:flex; flex-direction:column; }
#transcript { flex:1; overflow-y:auto; padding:24px; display:flex; flex-direction:column; gap:12px; }
.turn { max-width:780px; padding:12px 14px; border-radius:10px; white-space:pre-wrap; line-height:1.45; }
.turn.user { align-self:flex-end; background:#22304d; }
.turn.assistant { align-self:flex-start; background:var(--panel); }
.turn img { max-width:240px; border-radius:6px; display:block; margin-top:8px; }
.empty { color:var(--muted); text-align:center; margin-top:20vh; }
form { display:flex; gap:8px; padding:16px; border-top:1px solid #232733; background:var(--panel); align-items:center; }
form textarea { flex:1; resize:none; height:52px; padding:10px; border-radius:6px; border:1px solid #2b3040; background:#0f1115; color:var(--fg); }
form button { padding:10px 16px; border-radius:6px; border:none; background:var(--accent); color:#fff; cursor:pointer; }
form button:disabled { opacity:.5; cursor:wait; }
#status { font-size:12px; color:var(--muted); padding:0 16px 8px; min-height:18px; }
#status.error { color:var(--err); }
</style>
</head>
<body>
<aside>
  <h1>MultiChat</h1>
  <label for="session">Session</label>
  <select id="session"></select>
  <div id="new-session" hidden>
    <label for="new-name">New session name</label>
    <input id="new-name" placeholder="Session name">
    <button id="create" type="button">Create</button>
  </div>
  <button id="clear" class="secondary" type="button">Clear history</button>
  <button id="delete" class="secondary" type="button">Delete session</button>
</aside>
<main>
  <div id="transcript"><div class="empty">Select or create a session to start chatting.</div></div>
  <div id="status"></div>
  <form id="composer">
    <input id="images" type="file" accept=".jpg,.jpeg,.png,image/png,image/jpeg" multiple>
    <textarea id="prompt" placeholder="What would you like to ask?"></textarea>
    <button id="send" type="submit">Send</button>
  </form>
</main>
<script>
const NEW_SESSION = "New Session";
const $ = (id) => document.getElementById(id);
let current = "";

function setStatus(msg, isError) {
  $("status").textContent = msg || "";
  $("status").className = isError ? "error" : "";
}

async function api(method, path, body) {
  const opts = { method, headers: {} };
  if (body instanceof FormData) {
    opts.body = body;
  } else if (body !== undefined) {
    opts.headers["Content-Type"] = "application/json";
    opts.body = JSON.stringify(body);
  }
  const res = await fetch(path, opts);
  const data = await res.json().catch(() => ({}));
  if (!res.ok) throw new Error(data.error || res.statusText);
  return data;
}

const sessionPath = (name) => "/api/sessions/" + encodeURIComponent(name);

async function loadSessions() {
  const data = await api("GET", "/api/sessions");
  const sel = $("session");
  sel.innerHTML = "";
  for (const name of [NEW_SESSION].concat(data.sessions || [])) {
    const opt = document.createElement("option");
    opt.value = name;
    opt.textContent = name;
    sel.appendChild(opt);
  }
  if (!data.sessions.includes(current)) current = "";
  sel.value = current || NEW_SESSION;
  $("new-session").hidden = current !== "";
  await render();
}

async function render() {
  const box = $("transcript");
  box.innerHTML = "";
  if (!current) {
    box.innerHTML = '<div class="empty">Select or create a session to start chatting.</div>';
    return;
  }
  const sess = await api("GET", sessionPath(current));
  if (!sess.turns.length) {
    box.innerHTML = '<div class="empty">No messages yet.</div>';
    return;
  }
  for (const turn of sess.turns) {
    const div = document.createElement("div");
    div.className = "turn " + turn.role;
    div.textContent = turn.text;
    for (const img of turn.images || []) {
      const el = document.createElement("img");
      el.src = img.url;
      el.alt = img.name;
      div.appendChild(el);
    }
    box.appendChild(div);
  }
  box.scrollTop = box.scrollHeight;
}

$("session").addEventListener("change", async (e) => {
  current = e.target.value === NEW_SESSION ? "" : e.target.value;
  $("new-session").hidden = current !== "";
  setStatus("");
  await render().catch((err) => setStatus(err.message, true));
});

$("create").addEventListener("click", async () => {
  try {
    const sess = await api("POST", "/api/sessions", { name: $("new-name").value });
    current = sess.name;
    $("new-name").value = "";
    setStatus("Created " + sess.name);
    await loadSessions();
  } catch (err) { setStatus(err.message, true); }
});

$("clear").addEventListener("click", async () => {
  if (!current) return;
  try { await api("POST", sessionPath(current) + "/clear"); await render(); setStatus("History cleared"); }
  catch (err) { setStatus(err.message, true); }
});

$("delete").addEventListener("click", async () => {
  if (!current || !confirm("Delete " + current + "?")) return;
  try { await api("DELETE", sessionPath(current)); current = ""; await loadSessions(); setStatus("Session deleted"); }
  catch (err) { setStatus(err.message, true); }
});

$("composer").addEventListener("submit", async (e) => {
  e.preventDefault();
  if (!current) { setStatus("Create or select a session first", true); return; }
  const prompt = $("prompt").value;
  if (!prompt.trim()) return;
  const form = new FormData();
  form.append("prompt", prompt);
  for (const f of $("images").files) form.append("images", f);
  $("send").disabled = true;
  setStatus("Thinking...");
  try {
    await api("POST", sessionPath(current) + "/messages", form);
    $("prompt").value = "";
    $("images").value = "";
    setStatus("");
    await render();
  } catch (err) { setStatus(err.message, true); }
  finally { $("send").disabled = false; }
});

$("prompt").addEventListener("keydown", (e) => {
  if (e.key === "Enter" && !e.shiftKey) { e.preventDefault(); $("composer").requestSubmit(); }
});

function connectEvents() {
  const proto = location.protocol === "https:" ? "wss://" : "ws://";
  const ws = new WebSocket(proto + location.host + "/ws");
  ws.onmessage = async (msg) => {
    const ev = JSON.parse(msg.data);
    if (ev.event === "session.created" || ev.event === "session.deleted") {
      await loadSessions().catch(() => {});
    } else if (ev.event === "session.updated" || ev.event === "session.cleared") {
      if (ev.data && ev.data.session === current) await render().catch(() => {});
    }
  };
  ws.onclose = () => setTimeout(connectEvents, 2000);
}

loadSessions().catch((err) => setStatus(err.message, true));
connectEvents();
</script>
</body>
</html>
`
