package ingest

import (
	"regexp"
	"strings"

	"github.com/offspot-lab/offspot-metrics/internal/core/inputs"
	"github.com/offspot-lab/offspot-metrics/internal/packages"
)

var zimURI = regexp.MustCompile(`^/content/([^/]+)(/.*)?$`)

// itemContentTypes are the response content types counting as an item
// visit. Anything else (images, scripts, fonts) is asset traffic.
var itemContentTypes = []string{"text/html", "epub", "pdf"}

// Dispatcher routes one normalized log entry to the input generator
// matching the package serving the request's host. Unknown hosts produce
// no inputs.
type Dispatcher struct {
	conf *packages.Conf

	// itemVisits enables PackageItemVisit generation for zim content
	// pages, filtered by response content type. Off by default, paired
	// with the item-visit indicator registration.
	itemVisits bool
}

// DispatcherOption customizes dispatch behavior.
type DispatcherOption func(*Dispatcher)

// WithItemVisits turns on item-visit generation for zim packages.
func WithItemVisits() DispatcherOption {
	return func(d *Dispatcher) { d.itemVisits = true }
}

// NewDispatcher builds a dispatcher over the package configuration.
func NewDispatcher(conf *packages.Conf, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{conf: conf}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Inputs generates the indicator inputs for one log entry.
func (d *Dispatcher) Inputs(ld LogData) []inputs.Input {
	switch {
	case ld.Host == d.conf.ZimHost && d.conf.ZimHost != "":
		return d.zimInputs(ld)
	case contains(d.conf.EdupiHosts, ld.Host):
		return d.edupiInputs(ld, d.conf.AppsByHost[ld.Host].Title)
	case contains(d.conf.FileManagerHosts, ld.Host):
		return d.fileManagerInputs(ld, d.conf.AppsByHost[ld.Host].Title)
	default:
		if title, ok := d.conf.FilesByHost[ld.Host]; ok {
			return filesInputs(ld, title)
		}
		if app, ok := d.conf.AppsByHost[ld.Host]; ok {
			// Recognized app without a dedicated generator.
			return []inputs.Input{inputs.PackageRequest{Ts: ld.Ts, Title: app.Title}}
		}
		return nil
	}
}

func (d *Dispatcher) zimInputs(ld LogData) []inputs.Input {
	match := zimURI.FindStringSubmatch(ld.URI)
	if match == nil {
		return nil
	}

	title, ok := d.conf.ZimsByName[match[1]]
	if !ok {
		return nil
	}

	request := inputs.PackageRequest{Ts: ld.Ts, Title: title}
	path := match[2]
	if path == "" || path == "/" {
		return []inputs.Input{inputs.PackageHomeVisit{Title: title}, request}
	}

	if d.itemVisits && isItemContentType(ld.ContentType) {
		item := inputs.PackageItemVisit{Title: title, ItemPath: strings.TrimPrefix(path, "/")}
		return []inputs.Input{item, request}
	}
	return []inputs.Input{request}
}

func (d *Dispatcher) edupiInputs(ld LogData, title string) []inputs.Input {
	request := inputs.PackageRequest{Ts: ld.Ts, Title: title}

	switch {
	case ld.Method == "POST" && ld.URI == "/api/documents/" && ld.Status == 201:
		return []inputs.Input{
			request,
			inputs.SharedFilesOperation{Kind: inputs.OperationCreated, Count: 1},
		}
	case ld.Method == "DELETE" && ld.Status == 204 && isEdupiDocumentURI(ld.URI):
		return []inputs.Input{
			request,
			inputs.SharedFilesOperation{Kind: inputs.OperationDeleted, Count: 1},
		}
	}
	return []inputs.Input{request}
}

func isEdupiDocumentURI(uri string) bool {
	rest, found := strings.CutPrefix(uri, "/api/documents/")
	return found && rest != ""
}

func (d *Dispatcher) fileManagerInputs(ld LogData, title string) []inputs.Input {
	result := []inputs.Input{inputs.PackageRequest{Ts: ld.Ts, Title: title}}
	if ld.FilesAdded != nil && *ld.FilesAdded > 0 {
		result = append(result, inputs.SharedFilesOperation{
			Kind:  inputs.OperationCreated,
			Count: *ld.FilesAdded,
		})
	}
	if ld.FilesDeleted != nil && *ld.FilesDeleted > 0 {
		result = append(result, inputs.SharedFilesOperation{
			Kind:  inputs.OperationDeleted,
			Count: *ld.FilesDeleted,
		})
	}
	return result
}

func filesInputs(ld LogData, title string) []inputs.Input {
	request := inputs.PackageRequest{Ts: ld.Ts, Title: title}
	if ld.URI == "/" {
		return []inputs.Input{request, inputs.PackageHomeVisit{Title: title}}
	}
	return []inputs.Input{request}
}

func isItemContentType(contentType string) bool {
	lowered := strings.ToLower(contentType)
	for _, candidate := range itemContentTypes {
		if strings.Contains(lowered, candidate) {
			return true
		}
	}
	return false
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
