package dashboard

// HTML templates for the dashboard pages.

const layoutTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>guppy</title>
    <script src="https://cdn.tailwindcss.com"></script>
    <style>
        .mono { font-family: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, monospace; }
        .listing { max-height: 600px; overflow: auto; white-space: pre; }
    </style>
</head>
<body class="bg-gray-900 text-gray-100 min-h-screen">
    <nav class="bg-gray-800 border-b border-gray-700 sticky top-0 z-50">
        <div class="container mx-auto px-4">
            <div class="flex items-center h-16 space-x-8">
                <a href="/" class="text-xl font-bold text-white">guppy</a>
                <a href="/" class="px-3 py-2 rounded-md text-sm font-medium {{if eq .PageName "home"}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700{{end}}">Kernel</a>
                <a href="/programs" class="px-3 py-2 rounded-md text-sm font-medium {{if or (eq .PageName "programs") (eq .PageName "program")}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700{{end}}">Programs</a>
                <a href="/arrays" class="px-3 py-2 rounded-md text-sm font-medium {{if eq .PageName "arrays"}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700{{end}}">Arrays</a>
            </div>
        </div>
    </nav>

    <main class="container mx-auto px-4 py-6">
        {{.Content}}
    </main>

    <script>
        if (window.location.pathname === '/') {
            setInterval(async () => {
                try {
                    const resp = await fetch('/api/status');
                    const data = await resp.json();
                    for (const [id, value] of Object.entries({
                        'launches': data.totals.launches,
                        'faults': data.totals.faults,
                        'groups': data.totals.groups,
                        'elements': data.totals.elements,
                        'uptime': data.uptime,
                    })) {
                        const el = document.getElementById(id);
                        if (el) el.textContent = value.toLocaleString();
                    }
                } catch (e) {
                    console.error('Failed to fetch status:', e);
                }
            }, 5000);
        }
    </script>
</body>
</html>`

const homeTemplate = `
<div class="space-y-6">
    <div class="grid grid-cols-1 md:grid-cols-4 gap-4">
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-sm text-gray-400">Launches</p>
            <p class="text-3xl font-bold text-white mt-1" id="launches">{{formatNumber .Totals.Launches}}</p>
        </div>
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-sm text-gray-400">Faults</p>
            <p class="text-3xl font-bold mt-1 {{if .Totals.Faults}}text-red-500{{else}}text-green-500{{end}}" id="faults">{{formatNumber .Totals.Faults}}</p>
        </div>
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-sm text-gray-400">Groups</p>
            <p class="text-3xl font-bold text-white mt-1" id="groups">{{formatNumber .Totals.Groups}}</p>
        </div>
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-sm text-gray-400">Uptime</p>
            <p class="text-3xl font-bold text-white mt-1" id="uptime">{{.Uptime}}</p>
        </div>
    </div>

    <div class="grid grid-cols-1 md:grid-cols-4 gap-4">
        <div class="bg-gray-800 rounded-lg p-4 border border-gray-700">
            <p class="text-sm text-gray-400">Vector Elements</p>
            <p class="text-2xl font-bold text-white mt-1" id="elements">{{formatNumber .Totals.Elements}}</p>
        </div>
        <div class="bg-gray-800 rounded-lg p-4 border border-gray-700">
            <p class="text-sm text-gray-400">Map Calls</p>
            <p class="text-2xl font-bold text-white mt-1">{{formatNumber .Totals.MapCalls}}</p>
        </div>
        <div class="bg-gray-800 rounded-lg p-4 border border-gray-700">
            <p class="text-sm text-gray-400">Programs</p>
            <p class="text-2xl font-bold text-white mt-1">{{formatNumber .ProgramCount}} <span class="text-sm text-gray-500">{{formatBytes .ProgramBytes}}</span></p>
        </div>
        <div class="bg-gray-800 rounded-lg p-4 border border-gray-700">
            <p class="text-sm text-gray-400">Arrays</p>
            <p class="text-2xl font-bold text-white mt-1">{{formatNumber .ArrayCount}}</p>
        </div>
    </div>

    {{if .LastError}}
    <div class="bg-red-900/50 border border-red-700 rounded-lg p-4">
        <span class="text-red-200 text-sm">{{.LastError}}</span>
    </div>
    {{end}}

    <div class="bg-gray-800 rounded-lg border border-gray-700 p-6">
        <h2 class="text-lg font-semibold text-white mb-4">Kernel Configuration</h2>
        <dl class="grid grid-cols-2 md:grid-cols-4 gap-4 text-sm">
            <div><dt class="text-gray-400">Vector width</dt><dd class="text-white">{{.Config.VectorWidth}} (+{{.Config.VectorPadding}})</dd></div>
            <div><dt class="text-gray-400">Lanes per group</dt><dd class="text-white">{{.Config.LanesPerGroup}}</dd></div>
            <div><dt class="text-gray-400">Vector registers</dt><dd class="text-white">{{.Config.NumVecRegisters}}</dd></div>
            <div><dt class="text-gray-400">Int / float registers</dt><dd class="text-white">{{.Config.NumIntRegisters}} / {{.Config.NumFloatRegisters}}</dd></div>
            <div><dt class="text-gray-400">Max program</dt><dd class="text-white">{{formatBytes .Config.MaxProgramLength}}</dd></div>
            <div><dt class="text-gray-400">Scalars</dt><dd class="text-white">{{if .Config.SharedScalars}}shared{{else}}per lane{{end}}</dd></div>
            <div><dt class="text-gray-400">Prefetch</dt><dd class="text-white">{{.Config.PrefetchBytecode}}</dd></div>
            <div><dt class="text-gray-400">Bounds checks</dt><dd class="text-white">load {{.Config.CheckLoadBounds}}, store {{.Config.CheckStoreBounds}}</dd></div>
            <div><dt class="text-gray-400">Verify</dt><dd class="text-white">{{.Config.Verify}}</dd></div>
            <div><dt class="text-gray-400">Busy</dt><dd class="text-white">{{formatDuration .Totals.Busy}} ({{printf "%.1f" (mulf .Utilization 100)}}%)</dd></div>
        </dl>
    </div>
</div>
`

const programsTemplate = `
<div class="bg-gray-800 rounded-lg border border-gray-700 overflow-hidden">
    <div class="px-6 py-4 border-b border-gray-700">
        <h1 class="text-lg font-semibold text-white">Programs</h1>
    </div>
    {{if .Error}}<p class="px-6 py-4 text-red-300">{{.Error}}</p>{{end}}
    <table class="min-w-full divide-y divide-gray-700">
        <thead class="bg-gray-900/50">
            <tr>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase">ID</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase">Name</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase">Size</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase">Created</th>
            </tr>
        </thead>
        <tbody class="divide-y divide-gray-700">
            {{range .Programs}}
            <tr class="hover:bg-gray-700/50">
                <td class="px-6 py-4"><a href="/programs/{{.ID}}" class="text-blue-400 hover:text-blue-300 mono text-sm">{{truncateHash .ID.String 8}}</a></td>
                <td class="px-6 py-4 text-gray-300">{{.Name}}</td>
                <td class="px-6 py-4 text-gray-300">{{formatBytes .Size}}</td>
                <td class="px-6 py-4 text-gray-400 text-sm">{{formatTime .Created}}</td>
            </tr>
            {{else}}
            <tr><td colspan="4" class="px-6 py-8 text-center text-gray-500">No programs stored</td></tr>
            {{end}}
        </tbody>
    </table>
</div>
`

const programDetailTemplate = `
<div class="space-y-6">
    {{if .Program}}
    <div class="bg-gray-800 rounded-lg border border-gray-700 p-6">
        <h1 class="text-2xl font-bold text-white">{{if .Program.Name}}{{.Program.Name}}{{else}}Program{{end}}</h1>
        <p class="text-gray-400 mono text-sm break-all mt-2">{{.Program.ID}}</p>
        <p class="text-gray-400 text-sm mt-1">{{.Size}} bytes, created {{formatTime .Program.Created}}</p>
    </div>
    {{end}}
    {{if .Error}}
    <div class="bg-red-900/50 border border-red-700 rounded-lg p-4">
        <p class="text-red-200">{{.Error}}</p>
    </div>
    {{end}}
    {{if .Listing}}
    <div class="bg-gray-800 rounded-lg border border-gray-700 p-6">
        <h2 class="text-lg font-semibold text-white mb-4">Disassembly</h2>
        <div class="listing mono text-sm text-gray-300">{{.Listing}}</div>
    </div>
    {{end}}
</div>
`

const arraysTemplate = `
<div class="bg-gray-800 rounded-lg border border-gray-700 overflow-hidden">
    <div class="px-6 py-4 border-b border-gray-700">
        <h1 class="text-lg font-semibold text-white">Arrays</h1>
    </div>
    {{if .Error}}<p class="px-6 py-4 text-red-300">{{.Error}}</p>{{end}}
    <table class="min-w-full divide-y divide-gray-700">
        <thead class="bg-gray-900/50">
            <tr>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase">Name</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase">Elements</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase">SHA3-256</th>
            </tr>
        </thead>
        <tbody class="divide-y divide-gray-700">
            {{range .Arrays}}
            <tr class="hover:bg-gray-700/50">
                <td class="px-6 py-4 text-white">{{.Name}}</td>
                <td class="px-6 py-4 text-gray-300">{{formatNumber .Len}}</td>
                <td class="px-6 py-4 text-gray-400 mono text-sm">{{truncateHash .Digest.Hex 10}}</td>
            </tr>
            {{else}}
            <tr><td colspan="3" class="px-6 py-8 text-center text-gray-500">No arrays stored</td></tr>
            {{end}}
        </tbody>
    </table>
</div>
`
