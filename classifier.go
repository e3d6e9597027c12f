package scanguard

import (
	"net/url"
	"strings"
)

// Category is the suspicion class assigned to a path.
type Category int

const (
	CategoryNone Category = iota
	CategoryAdminProbe
	CategoryPathTraversal
	CategorySQLInjection
	CategoryScriptInjection
	CategoryExploitPath
)

var categoryNames = map[Category]string{
	CategoryNone:            "none",
	CategoryAdminProbe:      "admin_probe",
	CategoryPathTraversal:   "path_traversal",
	CategorySQLInjection:    "sql_injection",
	CategoryScriptInjection: "script_injection",
	CategoryExploitPath:     "exploit_path",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "none"
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	for k, v := range categoryNames {
		if v == string(text) {
			*c = k
			return nil
		}
	}
	*c = CategoryNone
	return nil
}

// Classification is the result of Classify.
type Classification struct {
	Suspicious bool
	Category   Category
}

type pathRule struct {
	pattern  string
	contains bool // otherwise prefix
}

type categoryTable struct {
	category Category
	rules    []pathRule
}

func prefix(patterns ...string) []pathRule {
	out := make([]pathRule, len(patterns))
	for i, p := range patterns {
		out[i] = pathRule{pattern: p}
	}
	return out
}

func contains(patterns ...string) []pathRule {
	out := make([]pathRule, len(patterns))
	for i, p := range patterns {
		out[i] = pathRule{pattern: p, contains: true}
	}
	return out
}

// classifierTables are checked in order; the first matching category wins.
var classifierTables = []categoryTable{
	{
		category: CategoryAdminProbe,
		rules: append(prefix(
			"/admin", "/administrator", "/wp-admin", "/wp-login", "/wp-config",
			"/wp-content", "/wp-includes", "/xmlrpc.php", "/phpmyadmin", "/pma",
			"/myadmin", "/config.json", "/config.php", "/configuration.php",
			"/web.config", "/server-status", "/server-info", "/backup", "/dump",
			"/db.sql", "/database.sql", "/actuator", "/console", "/manager/html",
			"/secrets", "/credentials",
		), contains(
			"/.env", "/.git", "/.svn", "/.hg", "/.aws", "/.ssh", "/.htaccess",
			"/.htpasswd", "/.ds_store", "/.vscode", "/.idea", "wp-login.php",
			"phpmyadmin",
		)...),
	},
	{
		category: CategoryPathTraversal,
		rules: contains(
			"../", "..\\", "/..", "%2e%2e", "..%2f", "%252e", "/etc/passwd",
			"/etc/shadow", "/proc/self", "win.ini", "boot.ini",
		),
	},
	{
		category: CategorySQLInjection,
		rules: contains(
			"union select", "union all select", "' or '1'='1", "\" or \"1\"=\"1",
			"' or 1=1", " or 1=1", "sleep(", "benchmark(", "waitfor delay",
			"information_schema", "drop table", "xp_cmdshell", "load_file(",
			"concat(", "';", "\";",
		),
	},
	{
		category: CategoryScriptInjection,
		rules: contains(
			"<script", "javascript:", "onerror=", "onload=", "alert(",
			"document.cookie", "<iframe", "<svg", "<img", "eval(",
		),
	},
	{
		category: CategoryExploitPath,
		rules: append(prefix(
			"/cgi-bin/", "/shell", "/vendor/phpunit", "/boaform",
			"/hnap1", "/owa/", "/autodiscover", "/solr/", "/jenkins", "/hudson",
			"/struts", "/druid", "/geoserver", "/_ignition", "/telescope",
			"/wls-wsat", "/invoker", "/jmx-console", "/remote/login",
			"/global-protect", "/sdk", "/setup.cgi", "/goform",
		), contains(
			".cgi", "eval-stdin.php", "${jndi", "jndi:", ".php", ".asp", ".jsp",
		)...),
	},
}

// Classify maps a request path to a suspicion category. It is pure and knows
// nothing about application routing; filter legitimate traffic first.
func Classify(path string) Classification {
	raw := strings.ToLower(path)
	decoded := raw
	if d, err := url.PathUnescape(strings.ReplaceAll(raw, "+", " ")); err == nil {
		decoded = strings.ToLower(d)
	}
	for _, table := range classifierTables {
		for _, rule := range table.rules {
			if rule.matches(decoded) || rule.matches(raw) {
				return Classification{Suspicious: true, Category: table.category}
			}
		}
	}
	return Classification{}
}

func (r pathRule) matches(path string) bool {
	if r.contains {
		return strings.Contains(path, r.pattern)
	}
	return strings.HasPrefix(path, r.pattern)
}
