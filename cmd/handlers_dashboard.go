package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleDashboard 只读状态面板，数据来自 /optimization-stats 与 /model-status
func handleDashboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(dashboardHTML))
	}
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Fronix Gateway Status</title>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-100 min-h-screen">
    <nav class="bg-indigo-600 text-white px-6 py-4 shadow">
        <div class="flex justify-between items-center">
            <h1 class="text-xl font-semibold">Fronix Gateway</h1>
            <span id="updated" class="text-sm text-indigo-100"></span>
        </div>
    </nav>

    <main class="max-w-6xl mx-auto p-6 space-y-6">
        <section class="bg-white rounded-lg shadow">
            <h2 class="px-6 py-4 border-b font-semibold">Credential Pools</h2>
            <table class="w-full text-sm">
                <thead class="bg-gray-50 text-left">
                    <tr><th class="px-6 py-2">Provider</th><th class="px-6 py-2">Keys</th><th class="px-6 py-2">Cursor</th><th class="px-6 py-2">Rotations</th></tr>
                </thead>
                <tbody id="pools"></tbody>
            </table>
        </section>

        <section class="bg-white rounded-lg shadow">
            <h2 class="px-6 py-4 border-b font-semibold">Upstream Statistics</h2>
            <table class="w-full text-sm">
                <thead class="bg-gray-50 text-left">
                    <tr><th class="px-6 py-2">Provider</th><th class="px-6 py-2">Requests</th><th class="px-6 py-2">Success</th><th class="px-6 py-2">Errors</th><th class="px-6 py-2">429</th><th class="px-6 py-2">Fallbacks</th><th class="px-6 py-2">Avg Latency</th></tr>
                </thead>
                <tbody id="providers"></tbody>
            </table>
        </section>

        <section class="bg-white rounded-lg shadow">
            <h2 class="px-6 py-4 border-b font-semibold">Model Status</h2>
            <div id="models" class="p-6 grid grid-cols-2 md:grid-cols-4 gap-3 text-sm"></div>
        </section>
    </main>

    <script>
        const esc = s => String(s ?? '').replace(/[&<>"]/g, c => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;'}[c]));
        const row = cells => '<tr class="border-t">' + cells.map(c => '<td class="px-6 py-2">' + esc(c) + '</td>').join('') + '</tr>';

        async function refresh() {
            const [stats, status] = await Promise.all([
                fetch('/optimization-stats').then(r => r.json()),
                fetch('/model-status').then(r => r.json()),
            ]);

            document.getElementById('pools').innerHTML = (stats.pools || [])
                .map(p => row([p.name, p.anonymous ? 'anonymous' : p.size, p.cursor, p.rotations])).join('');

            document.getElementById('providers').innerHTML = (stats.providers || [])
                .map(p => row([p.provider, p.total_requests, p.success, p.error, p.rate_limited, p.fallbacks,
                    p.total_requests ? Math.round(p.total_latency / p.total_requests) + ' ms' : '-'])).join('');

            document.getElementById('models').innerHTML = Object.entries(status.models || {})
                .sort(([a], [b]) => a.localeCompare(b))
                .map(([id, m]) => '<div class="rounded border px-3 py-2 ' + (m.available ? 'border-green-400 bg-green-50' : 'border-red-400 bg-red-50') + '">' +
                    '<div class="font-medium">' + esc(id) + '</div>' +
                    '<div class="text-gray-500">' + esc(m.status) + ' · ' + esc(m.latency_ms) + ' ms</div></div>').join('');

            document.getElementById('updated').textContent = 'Updated ' + new Date(stats.timestamp * 1000).toLocaleTimeString();
        }

        refresh();
        setInterval(refresh, 15000);
    </script>
</body>
</html>`
