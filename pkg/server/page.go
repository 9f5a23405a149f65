package server

// editorPage is a deliberately small standalone editor: enough to edit
// cells, add rows and columns, and watch collaborator edits arrive live.
const editorPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>DataFrame Editor</title>
<style>
  body { font-family: sans-serif; margin: 1rem; }
  table { border-collapse: collapse; }
  td, th { border: 1px solid #ccc; padding: 4px 8px; }
  td[contenteditable] { min-width: 6rem; }
  #users span { margin-right: 0.5rem; padding: 2px 6px; border-radius: 4px; color: #fff; }
  button { margin-right: 0.5rem; }
</style>
</head>
<body>
<h2>DataFrame Editor</h2>
<div id="users"></div>
<table id="grid"><thead></thead><tbody></tbody></table>
<p>
  <button onclick="addRow()">Add Row</button>
  <button onclick="addColumn()">Add Column</button>
  <button onclick="save()">Save &amp; Close</button>
  <button onclick="cancelEdit()">Cancel</button>
</p>
<script>
let columns = [], rows = [], userId = null;
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");

function render() {
  const head = document.querySelector("#grid thead");
  head.innerHTML = "<tr>" + columns.map(c => "<th>" + c + "</th>").join("") + "</tr>";
  const body = document.querySelector("#grid tbody");
  body.innerHTML = "";
  for (const row of rows) {
    const tr = document.createElement("tr");
    for (const c of columns) {
      const td = document.createElement("td");
      td.contentEditable = true;
      td.textContent = row[c] == null ? "" : row[c];
      td.addEventListener("blur", () => {
        if (String(row[c] ?? "") === td.textContent) return;
        row[c] = td.textContent;
        ws.send(JSON.stringify({type: "cell_edit", rowId: row._row_id, column: c,
          value: td.textContent, actionId: crypto.randomUUID()}));
      });
      tr.appendChild(td);
    }
    body.appendChild(tr);
  }
}

function reload() {
  fetch("/data").then(r => r.json()).then(data => {
    rows = data;
    columns = data.length ? Object.keys(data[0]).filter(k => k !== "_row_id") : columns;
    render();
  });
}

ws.onmessage = ev => {
  const msg = JSON.parse(ev.data);
  switch (msg.type) {
  case "init":
    userId = msg.userId;
    renderUsers(msg.collaborators || []);
    break;
  case "user_joined":
  case "user_left":
    fetchUsers();
    break;
  case "cell_edit": {
    const row = rows.find(r => r._row_id === msg.rowId);
    if (row) { row[msg.column] = msg.value; render(); } else { reload(); }
    break;
  }
  case "add_row":
    rows.push({_row_id: msg.rowId});
    render();
    break;
  case "add_column":
    if (!columns.includes(msg.columnName)) { columns.push(msg.columnName); render(); }
    break;
  case "column_reorder":
    columns = msg.columns;
    render();
    break;
  case "data_sync":
    if (msg.reload) reload();
    break;
  }
};

function renderUsers(users) {
  document.getElementById("users").innerHTML = users.map(
    u => '<span style="background:' + u.color + '">' + u.name + "</span>").join("");
}
function fetchUsers() { /* roster arrives on the next init-bearing reconnect */ }

function addRow() { ws.send(JSON.stringify({type: "add_row", actionId: crypto.randomUUID()})); }
function addColumn() {
  const name = prompt("Column name", "");
  if (name !== null) ws.send(JSON.stringify({type: "add_column", columnName: name || "New Column"}));
}
function save() {
  fetch("/update_data", {method: "POST", headers: {"Content-Type": "application/json"},
    body: JSON.stringify({data: rows})})
    .then(() => fetch("/shutdown", {method: "POST"}))
    .then(() => document.body.innerHTML = "<p>Saved. You can close this tab.</p>");
}
function cancelEdit() {
  fetch("/cancel", {method: "POST"})
    .then(() => document.body.innerHTML = "<p>Cancelled. You can close this tab.</p>");
}

reload();
</script>
</body>
</html>
`
