// Package packages loads the reverse-proxy package configuration and
// exposes the lookup tables driving log-to-input dispatch.
package packages

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrEmptyConf means the configuration file parsed to nothing.
	ErrEmptyConf = errors.New("packages configuration is empty")

	// ErrMissingPackagesKey means the top-level packages list is absent.
	ErrMissingPackagesKey = errors.New("packages configuration has no packages key")
)

// AppKind classifies recognized application idents.
type AppKind string

const (
	AppEdupi       AppKind = "edupi"
	AppFileManager AppKind = "file-manager"
)

// DefaultAppIdents is the closed allow-list of application idents the
// engine knows how to interpret.
var DefaultAppIdents = map[string]AppKind{
	"edupi":        AppEdupi,
	"file-manager": AppFileManager,
}

// App is one recognized application package.
type App struct {
	Title string
	Ident string
}

// Conf holds the dispatch tables extracted from the packages file.
// Only one zim host is supported; files and apps may span several hosts.
type Conf struct {
	ZimHost          string
	ZimsByName       map[string]string // zim name -> title
	FilesByHost      map[string]string // host -> title
	AppsByHost       map[string]App
	EdupiHosts       map[string]struct{}
	FileManagerHosts map[string]struct{}
}

type packageEntry struct {
	URL   string `yaml:"url"`
	Title string `yaml:"title"`
	Kind  string `yaml:"kind"`
	Ident string `yaml:"ident"`
}

// LoadFile reads and parses a packages YAML file.
func LoadFile(path string, appIdents map[string]AppKind) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read packages file: %w", err)
	}
	return Load(data, appIdents)
}

// Load parses packages YAML. Recoverable problems (missing fields,
// unsupported kinds or URLs, duplicate zim hosts, unknown app idents) are
// logged as warnings and the offending entry skipped. An empty document or
// a missing packages key fails construction.
func Load(data []byte, appIdents map[string]AppKind) (*Conf, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse packages file: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyConf
	}
	node, ok := raw["packages"]
	if !ok {
		return nil, ErrMissingPackagesKey
	}

	var entries []packageEntry
	if err := node.Decode(&entries); err != nil {
		return nil, fmt.Errorf("parse packages list: %w", err)
	}

	conf := &Conf{
		ZimsByName:       make(map[string]string),
		FilesByHost:      make(map[string]string),
		AppsByHost:       make(map[string]App),
		EdupiHosts:       make(map[string]struct{}),
		FileManagerHosts: make(map[string]struct{}),
	}

	for _, entry := range entries {
		conf.addEntry(entry, appIdents)
	}

	return conf, nil
}

func (c *Conf) addEntry(entry packageEntry, appIdents map[string]AppKind) {
	if entry.URL == "" || entry.Title == "" || entry.Kind == "" {
		slog.Warn("[Packages] Ignoring package with missing field",
			"url", entry.URL, "title", entry.Title, "kind", entry.Kind)
		return
	}

	host, path, ok := splitURL(entry.URL)
	if !ok {
		slog.Warn("[Packages] Ignoring package with unsupported url", "url", entry.URL)
		return
	}

	switch entry.Kind {
	case "zim":
		c.addZim(entry, host, path)
	case "files":
		c.FilesByHost[host] = entry.Title
	case "app":
		c.addApp(entry, host, appIdents)
	default:
		slog.Warn("[Packages] Ignoring package with unsupported kind",
			"kind", entry.Kind, "title", entry.Title)
	}
}

func (c *Conf) addZim(entry packageEntry, host, path string) {
	if c.ZimHost != "" && c.ZimHost != host {
		slog.Warn("[Packages] Ignoring zim on secondary host",
			"host", host, "zim_host", c.ZimHost, "title", entry.Title)
		return
	}

	name, ok := zimName(path)
	if !ok {
		slog.Warn("[Packages] Ignoring zim with unsupported url", "url", entry.URL)
		return
	}

	c.ZimHost = host
	c.ZimsByName[name] = entry.Title
}

func (c *Conf) addApp(entry packageEntry, host string, appIdents map[string]AppKind) {
	if entry.Ident == "" {
		slog.Warn("[Packages] Ignoring app with missing ident", "title", entry.Title)
		return
	}

	kind, ok := appIdents[entry.Ident]
	if !ok {
		slog.Warn("[Packages] Ignoring app with unknown ident",
			"ident", entry.Ident, "title", entry.Title)
		return
	}

	c.AppsByHost[host] = App{Title: entry.Title, Ident: entry.Ident}
	switch kind {
	case AppEdupi:
		c.EdupiHosts[host] = struct{}{}
	case AppFileManager:
		c.FileManagerHosts[host] = struct{}{}
	}
}

// splitURL parses a package url of the form //host/path or //host#fragment.
func splitURL(url string) (host, rest string, ok bool) {
	if !strings.HasPrefix(url, "//") {
		return "", "", false
	}
	trimmed := url[2:]
	if trimmed == "" {
		return "", "", false
	}
	idx := strings.IndexAny(trimmed, "/#")
	if idx == -1 {
		return trimmed, "", true
	}
	return trimmed[:idx], trimmed[idx:], true
}

// zimName extracts the zim name from a package path, either the viewer
// fragment form (/viewer#name) or the content form (/content/name/...).
func zimName(path string) (string, bool) {
	if name, found := strings.CutPrefix(path, "/viewer#"); found && name != "" {
		return name, true
	}
	if rest, found := strings.CutPrefix(path, "/content/"); found {
		name, _, _ := strings.Cut(rest, "/")
		if name != "" {
			return name, true
		}
	}
	return "", false
}
