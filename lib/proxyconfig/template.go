/*
Copyright 2024 Raywonder, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package proxyconfig

import (
	"bytes"
	"text/template"

	"github.com/gravitational/trace"
)

// Sentinel is the marker prefix that begins every server-block this
// package emits, and the single discriminator the splice operations use
// to find a block again.
const Sentinel = "OpenLink Domain"

// blockTemplate renders one self-contained nginx server block. The
// upstream host/port, CORS, security headers, and the two fixed
// endpoints (/health, /.openlink/status) all come from spec §4.C.
var blockTemplate = template.Must(template.New("server-block").Parse(`# {{.Sentinel}}: {{.FullName}} (ID: {{.DomainID}}, Location: {{.Location}})
server {
    listen 80;
    server_name {{.FullName}};

    add_header X-Frame-Options SAMEORIGIN always;
    add_header X-Content-Type-Options nosniff always;
    add_header X-XSS-Protection "1; mode=block" always;
    add_header Referrer-Policy strict-origin-when-cross-origin always;

    if ($request_method = OPTIONS) {
        add_header Access-Control-Allow-Origin "*";
        add_header Access-Control-Allow-Methods "GET, POST, PUT, DELETE, OPTIONS";
        add_header Access-Control-Allow-Headers "*";
        add_header Content-Length 0;
        add_header Content-Type text/plain;
        return 204;
    }
    add_header Access-Control-Allow-Origin "*" always;

    location /health {
        default_type text/plain;
        return 200 "healthy: {{.FullName}}\n";
    }

    location /.openlink/status {
        default_type application/json;
        return 200 '{"domain":"{{.FullName}}","id":"{{.DomainID}}","location":"{{.Location}}","status":"active"}';
    }

    location / {
        proxy_pass {{.Scheme}}://{{.UpstreamHost}}:{{.UpstreamPort}};
        proxy_http_version 1.1;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_connect_timeout 10s;
        proxy_read_timeout 300s;
        proxy_send_timeout 300s;
    }
}
`))

// blockData feeds blockTemplate.
type blockData struct {
	Sentinel     string
	FullName     string
	DomainID     string
	Location     string
	Scheme       string
	UpstreamHost string
	UpstreamPort int
}

// renderBlock composes the server-block text for d, choosing the
// upstream target per spec §4.C: for a local-location domain the literal
// target host is used; for a remote-location domain the block proxies
// back to the requesting Mac's LAN IP, because the remote proxy tunnels
// to the local host over the reverse channel.
func renderBlock(d Domain) (string, error) {
	if d.FullName == "" || d.DomainID == "" {
		return "", trace.BadParameter("domain record missing full name or ID")
	}
	scheme := "http"
	if d.TLS {
		scheme = "https"
	}
	upstreamHost := d.TargetHost
	if d.Location == LocationRemote && d.RequesterLANIP != "" {
		upstreamHost = d.RequesterLANIP
	}
	data := blockData{
		Sentinel:     Sentinel,
		FullName:     d.FullName,
		DomainID:     d.DomainID,
		Location:     string(d.Location),
		Scheme:       scheme,
		UpstreamHost: upstreamHost,
		UpstreamPort: d.TargetPort,
	}
	var buf bytes.Buffer
	if err := blockTemplate.Execute(&buf, data); err != nil {
		return "", trace.Wrap(err, "rendering server block for %v", d.FullName)
	}
	return buf.String(), nil
}
