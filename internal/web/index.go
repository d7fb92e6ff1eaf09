package web

import (
	"fmt"
	"net/http"
)

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>coincraze</title>
<style>
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",sans-serif;background:#0f1115;color:#e6e6e6;margin:0;padding:24px}
h1{font-size:20px;margin:0 0 16px}
.grid{display:grid;grid-template-columns:repeat(auto-fit,minmax(180px,1fr));gap:12px;margin-bottom:16px}
.card{background:#181b22;border-radius:8px;padding:12px}
.label{font-size:12px;color:#8a8f98;text-transform:uppercase}
.value{font-size:22px;margin-top:4px}
.up{color:#3ecf8e}.down{color:#ef4444}
form{display:flex;gap:8px;margin-bottom:8px}
input{background:#181b22;border:1px solid #2a2f3a;color:#e6e6e6;padding:6px;border-radius:4px}
button{background:#2563eb;border:0;color:#fff;padding:6px 12px;border-radius:4px;cursor:pointer}
#error{color:#ef4444;min-height:20px}
</style>
</head>
<body>
<h1>SOL paper portfolio</h1>
<div class="grid">
  <div class="card"><div class="label">Total value</div><div class="value" id="total">-</div></div>
  <div class="card"><div class="label">Cash</div><div class="value" id="cash">-</div></div>
  <div class="card"><div class="label">Holdings</div><div class="value" id="owned">-</div></div>
  <div class="card"><div class="label">Price</div><div class="value" id="price">-</div><div class="label" id="origin"></div></div>
  <div class="card"><div class="label">P/L</div><div class="value" id="pl">-</div></div>
</div>
<form id="buy"><input name="amount" placeholder="USD to spend"><button>Buy</button></form>
<form id="sell"><input name="percent" placeholder="% to sell"><button>Sell</button></form>
<div id="error"></div>
<script>
function render(s){
  document.getElementById('total').textContent = '$' + Number(s.total_value).toFixed(2);
  document.getElementById('cash').textContent = '$' + Number(s.state.cash_balance).toFixed(2);
  document.getElementById('owned').textContent = Number(s.state.owned_quantity).toFixed(4) + ' SOL';
  document.getElementById('price').textContent = '$' + Number(s.price).toFixed(2);
  document.getElementById('origin').textContent = s.price_origin;
  const pl = document.getElementById('pl');
  const amount = Number(s.profit_loss.amount);
  pl.textContent = (amount >= 0 ? '+' : '') + amount.toFixed(2) +
    (s.profit_loss.percent ? ' (' + Number(s.profit_loss.percent).toFixed(2) + '%)' : '');
  pl.className = 'value ' + (amount >= 0 ? 'up' : 'down');
}
function post(path, body){
  return fetch(path, {method:'POST', headers:{'Content-Type':'application/json'}, body:JSON.stringify(body)})
    .then(r => r.json().then(j => { if(!r.ok){ throw new Error(j.error) } return j }))
    .then(j => { document.getElementById('error').textContent = ''; render(j.snapshot) })
    .catch(e => { document.getElementById('error').textContent = e.message });
}
document.getElementById('buy').onsubmit = e => { e.preventDefault(); post('/api/v1/ledger/buy', {amount: e.target.amount.value}) };
document.getElementById('sell').onsubmit = e => { e.preventDefault(); post('/api/v1/ledger/sell', {percent: e.target.percent.value}) };
document.addEventListener('visibilitychange', () => {
  fetch('/api/v1/signals/visibility', {method:'POST', headers:{'Content-Type':'application/json'},
    body:JSON.stringify({visible: document.visibilityState === 'visible'})});
});
window.addEventListener('online', () => fetch('/api/v1/signals/online', {method:'POST'}));
fetch('/api/v1/ledger').then(r => r.json()).then(render);
const es = new EventSource('/api/v1/balance/stream');
es.addEventListener('balance', e => render(JSON.parse(e.data)));
</script>
</body>
</html>
`
