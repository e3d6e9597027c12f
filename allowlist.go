package scanguard

import (
	"regexp"
	"strings"
)

// guildRoute matches routes keyed by a Discord snowflake, optionally nested
// under a section prefix: /123456789012345678, /dashboard/123456789012345678/settings.
var guildRoute = regexp.MustCompile(`^/(?:[a-z]+/)*\d{17,20}(?:/[a-z0-9_-]+)*/?$`)

// AllowlistConfig lists the paths that make up normal application traffic.
type AllowlistConfig struct {
	Paths       []string `yaml:"paths" json:"paths"`
	Prefixes    []string `yaml:"prefixes" json:"prefixes"`
	Extensions  []string `yaml:"extensions" json:"extensions"`
	GuildRoutes bool     `yaml:"guildRoutes" json:"guildRoutes"`
}

// DefaultAllowlistConfig covers the bot's public pages, static assets, OAuth
// and API routes.
func DefaultAllowlistConfig() AllowlistConfig {
	return AllowlistConfig{
		Paths: []string{
			"/", "/health", "/healthz", "/favicon.ico", "/robots.txt",
			"/login", "/logout", "/callback", "/dashboard", "/banned",
			"/docs", "/commands", "/privacy", "/terms", "/support",
		},
		Prefixes: []string{"/auth/", "/api/v1/", "/images/", "/static/", "/assets/", "/docs/"},
		Extensions: []string{
			".css", ".js", ".map", ".png", ".jpg", ".jpeg", ".gif", ".svg",
			".ico", ".webp", ".woff", ".woff2", ".ttf",
		},
		GuildRoutes: true,
	}
}

// Allowlist decides whether a path is legitimate traffic. It is immutable;
// build a new one to change it.
type Allowlist struct {
	paths       map[string]struct{}
	prefixes    []string
	extensions  []string
	guildRoutes bool
}

func NewAllowlist(cfg AllowlistConfig) *Allowlist {
	a := &Allowlist{
		paths:       make(map[string]struct{}, len(cfg.Paths)),
		guildRoutes: cfg.GuildRoutes,
	}
	for _, p := range cfg.Paths {
		a.paths[strings.ToLower(p)] = struct{}{}
	}
	for _, p := range cfg.Prefixes {
		if p != "" {
			a.prefixes = append(a.prefixes, strings.ToLower(p))
		}
	}
	for _, e := range cfg.Extensions {
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		a.extensions = append(a.extensions, strings.ToLower(e))
	}
	return a
}

// Allowed reports whether path is known application traffic. Paths carrying
// traversal sequences are never allowed.
func (a *Allowlist) Allowed(path string) bool {
	if a == nil {
		return false
	}
	p := strings.ToLower(path)
	if p == "" {
		p = "/"
	}
	if strings.Contains(p, "..") || strings.Contains(p, "%2e") {
		return false
	}
	if _, ok := a.paths[p]; ok {
		return true
	}
	if len(p) > 1 {
		if _, ok := a.paths[strings.TrimSuffix(p, "/")]; ok {
			return true
		}
	}
	for _, prefix := range a.prefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	for _, ext := range a.extensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return a.guildRoutes && guildRoute.MatchString(p)
}
