package views

import (
	"html/template"
	"time"

	"github.com/dustin/go-humanize"
)

var funcs = template.FuncMap{
	"bytes": func(n int64) string {
		if n < 0 {
			return ""
		}
		return humanize.IBytes(uint64(n))
	},
	"ago": humanize.Time,
	"date": func(t time.Time) string {
		return t.Local().Format("2006-01-02 15:04")
	},
}
