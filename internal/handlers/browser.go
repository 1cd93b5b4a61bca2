package handlers

import (
	"html/template"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"drivegate/internal/resolver"
)

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>drivegate - {{.Dir.Path}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            margin: 0;
            padding: 20px;
            background-color: #f5f5f7;
        }
        .container {
            max-width: 1200px;
            margin: 0 auto;
            background: white;
            border-radius: 12px;
            box-shadow: 0 4px 6px rgba(0, 0, 0, 0.1);
            overflow: hidden;
        }
        .header {
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            color: white;
            padding: 20px 30px;
        }
        .header h1 {
            margin: 0;
            font-size: 24px;
            font-weight: 600;
        }
        #nav-link {
            background: #f8f9fa;
            padding: 15px 30px;
            border-bottom: 1px solid #e9ecef;
        }
        #nav-link a {
            color: #0066cc;
            text-decoration: none;
        }
        .file-item {
            display: flex;
            align-items: center;
            padding: 12px 30px;
            border-bottom: 1px solid #f0f0f0;
        }
        .file-item:hover {
            background-color: #f8f9fa;
        }
        .file-icon {
            width: 24px;
            margin-right: 12px;
            flex-shrink: 0;
        }
        .file-name {
            flex: 1;
            font-weight: 500;
        }
        .file-name a {
            color: #333;
            text-decoration: none;
        }
        .directory a {
            color: #0066cc;
        }
        .media a {
            color: #b0306a;
        }
        .file-meta {
            color: #666;
            font-size: 14px;
            min-width: 110px;
            text-align: right;
        }
        .file-meta a {
            color: #999;
        }
        .empty-state {
            text-align: center;
            padding: 60px 30px;
            color: #666;
        }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>{{.Dir.Path}}</h1>
        </div>

        <div id="nav-link">{{range $i, $crumb := .Breadcrumb}}{{if $i}}/{{end}}<strong><a href="{{$crumb.URL}}">{{$crumb.Name}}</a></strong>{{end}}</div>

        <div class="file-list">
            {{if .Rows}}
                {{range .Rows}}
                <div class="file-item">
                    <div class="file-icon">{{if .IsDirectory}}📁{{else if .IsMedia}}🎬{{else}}📄{{end}}</div>
                    <div class="file-name{{if .IsDirectory}} directory{{end}}{{if .IsMedia}} media{{end}}">
                        <a href="{{.URL}}">{{.Name}}</a>
                    </div>
                    <div class="file-meta">{{formatTime .MTime}}</div>
                    <div class="file-meta">{{.DisplaySize}}</div>
                    <div class="file-meta"><a href="{{.URL}}&method=attr">attr</a></div>
                </div>
                {{end}}
            {{else}}
                <div class="empty-state">
                    <h3>📂 Empty Directory</h3>
                    <p>This directory contains no files or subdirectories.</p>
                </div>
            {{end}}
        </div>
    </div>
</body>
</html>`

// BrowserHandler renders directory listings as HTML
type BrowserHandler struct {
	template *template.Template
}

// NewBrowserHandler creates a new browser handler
func NewBrowserHandler() *BrowserHandler {
	tmpl := template.Must(template.New("directory").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("2006-01-02 15:04")
		},
	}).Parse(htmlTemplate))
	return &BrowserHandler{
		template: tmpl,
	}
}

// Render writes the listing page
func (h *BrowserHandler) Render(w http.ResponseWriter, listing *resolver.Listing) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.template.Execute(w, listing); err != nil {
		log.Warnf("Failed to render listing of %s: %v", listing.Dir.Path, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}
