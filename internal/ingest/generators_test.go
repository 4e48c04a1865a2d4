package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/offspot-lab/offspot-metrics/internal/core/inputs"
	"github.com/offspot-lab/offspot-metrics/internal/packages"
)

func testConf(t *testing.T) *packages.Conf {
	t.Helper()

	conf, err := packages.Load([]byte(`
packages:
  - url: //kiwix.offspot/viewer#wikipedia_en
    title: Wikipedia
    kind: zim
  - url: //download.offspot/
    title: Shared Files
    kind: files
  - url: //edupi.offspot/
    title: Edupi
    kind: app
    ident: edupi
  - url: //files.offspot/
    title: File Manager
    kind: app
    ident: file-manager
`), packages.DefaultAppIdents)
	require.NoError(t, err)
	return conf
}

var testTs = time.Date(2023, 6, 8, 10, 15, 0, 0, time.UTC)

func TestInputs_UnknownHostProducesNothing(t *testing.T) {
	d := NewDispatcher(testConf(t))

	ins := d.Inputs(LogData{Host: "unknown.offspot", URI: "/", Method: "GET", Ts: testTs})
	require.Empty(t, ins)
}

func TestInputs_ZimHomeVisit(t *testing.T) {
	d := NewDispatcher(testConf(t))

	for _, uri := range []string{"/content/wikipedia_en", "/content/wikipedia_en/"} {
		ins := d.Inputs(LogData{Host: "kiwix.offspot", URI: uri, Method: "GET", Ts: testTs})
		require.Equal(t, []inputs.Input{
			inputs.PackageHomeVisit{Title: "Wikipedia"},
			inputs.PackageRequest{Ts: testTs, Title: "Wikipedia"},
		}, ins, "uri %s", uri)
	}
}

func TestInputs_ZimContentPageWithoutItemVisits(t *testing.T) {
	d := NewDispatcher(testConf(t))

	ins := d.Inputs(LogData{
		Host:        "kiwix.offspot",
		URI:         "/content/wikipedia_en/A/Antarctica",
		Method:      "GET",
		ContentType: "text/html; charset=utf-8",
		Ts:          testTs,
	})
	require.Equal(t, []inputs.Input{
		inputs.PackageRequest{Ts: testTs, Title: "Wikipedia"},
	}, ins)
}

func TestInputs_ZimItemVisitEnabled(t *testing.T) {
	d := NewDispatcher(testConf(t), WithItemVisits())

	ins := d.Inputs(LogData{
		Host:        "kiwix.offspot",
		URI:         "/content/wikipedia_en/A/Antarctica",
		Method:      "GET",
		ContentType: "text/html; charset=utf-8",
		Ts:          testTs,
	})
	require.Equal(t, []inputs.Input{
		inputs.PackageItemVisit{Title: "Wikipedia", ItemPath: "A/Antarctica"},
		inputs.PackageRequest{Ts: testTs, Title: "Wikipedia"},
	}, ins)
}

func TestInputs_ZimAssetsAreNotItemVisits(t *testing.T) {
	d := NewDispatcher(testConf(t), WithItemVisits())

	tests := []struct {
		name        string
		contentType string
	}{
		{"image", "image/png"},
		{"script", "application/javascript"},
		{"no content type", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ins := d.Inputs(LogData{
				Host:        "kiwix.offspot",
				URI:         "/content/wikipedia_en/I/logo.png",
				Method:      "GET",
				ContentType: tt.contentType,
				Ts:          testTs,
			})
			require.Equal(t, []inputs.Input{
				inputs.PackageRequest{Ts: testTs, Title: "Wikipedia"},
			}, ins)
		})
	}
}

func TestInputs_ZimItemContentTypes(t *testing.T) {
	d := NewDispatcher(testConf(t), WithItemVisits())

	for _, contentType := range []string{"text/html", "application/epub+zip", "application/pdf", "TEXT/HTML"} {
		ins := d.Inputs(LogData{
			Host:        "kiwix.offspot",
			URI:         "/content/wikipedia_en/A/Antarctica",
			Method:      "GET",
			ContentType: contentType,
			Ts:          testTs,
		})
		require.Len(t, ins, 2, "content type %s", contentType)
	}
}

func TestInputs_ZimUnknownNameOrURI(t *testing.T) {
	d := NewDispatcher(testConf(t))

	// Unknown zim name on the zim host.
	ins := d.Inputs(LogData{Host: "kiwix.offspot", URI: "/content/other_zim/A/x", Method: "GET", Ts: testTs})
	require.Empty(t, ins)

	// Non-content URI (viewer shell, search, catalogs).
	ins = d.Inputs(LogData{Host: "kiwix.offspot", URI: "/search?q=x", Method: "GET", Ts: testTs})
	require.Empty(t, ins)
}

func TestInputs_FilesPackage(t *testing.T) {
	d := NewDispatcher(testConf(t))

	ins := d.Inputs(LogData{Host: "download.offspot", URI: "/", Method: "GET", Ts: testTs})
	require.Equal(t, []inputs.Input{
		inputs.PackageRequest{Ts: testTs, Title: "Shared Files"},
		inputs.PackageHomeVisit{Title: "Shared Files"},
	}, ins)

	ins = d.Inputs(LogData{Host: "download.offspot", URI: "/some/file.pdf", Method: "GET", Ts: testTs})
	require.Equal(t, []inputs.Input{
		inputs.PackageRequest{Ts: testTs, Title: "Shared Files"},
	}, ins)
}

func TestInputs_EdupiOperations(t *testing.T) {
	d := NewDispatcher(testConf(t))

	tests := []struct {
		name   string
		method string
		uri    string
		status int
		want   []inputs.Input
	}{
		{
			name: "document created", method: "POST", uri: "/api/documents/", status: 201,
			want: []inputs.Input{
				inputs.PackageRequest{Ts: testTs, Title: "Edupi"},
				inputs.SharedFilesOperation{Kind: inputs.OperationCreated, Count: 1},
			},
		},
		{
			name: "document deleted", method: "DELETE", uri: "/api/documents/42/", status: 204,
			want: []inputs.Input{
				inputs.PackageRequest{Ts: testTs, Title: "Edupi"},
				inputs.SharedFilesOperation{Kind: inputs.OperationDeleted, Count: 1},
			},
		},
		{
			name: "failed create is only a request", method: "POST", uri: "/api/documents/", status: 400,
			want: []inputs.Input{inputs.PackageRequest{Ts: testTs, Title: "Edupi"}},
		},
		{
			name: "delete of collection root is only a request", method: "DELETE", uri: "/api/documents/", status: 204,
			want: []inputs.Input{inputs.PackageRequest{Ts: testTs, Title: "Edupi"}},
		},
		{
			name: "browsing is only a request", method: "GET", uri: "/", status: 200,
			want: []inputs.Input{inputs.PackageRequest{Ts: testTs, Title: "Edupi"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ins := d.Inputs(LogData{Host: "edupi.offspot", URI: tt.uri, Method: tt.method, Status: tt.status, Ts: testTs})
			require.Equal(t, tt.want, ins)
		})
	}
}

func TestInputs_FileManagerOperations(t *testing.T) {
	d := NewDispatcher(testConf(t))

	added := int64(3)
	deleted := int64(1)
	zero := int64(0)

	ins := d.Inputs(LogData{
		Host: "files.offspot", URI: "/api/upload", Method: "PUT", Status: 200, Ts: testTs,
		FilesAdded: &added, FilesDeleted: &deleted,
	})
	require.Equal(t, []inputs.Input{
		inputs.PackageRequest{Ts: testTs, Title: "File Manager"},
		inputs.SharedFilesOperation{Kind: inputs.OperationCreated, Count: 3},
		inputs.SharedFilesOperation{Kind: inputs.OperationDeleted, Count: 1},
	}, ins)

	// Zero counts do not produce operations.
	ins = d.Inputs(LogData{
		Host: "files.offspot", URI: "/", Method: "GET", Status: 200, Ts: testTs,
		FilesAdded: &zero,
	})
	require.Equal(t, []inputs.Input{
		inputs.PackageRequest{Ts: testTs, Title: "File Manager"},
	}, ins)

	// No headers at all.
	ins = d.Inputs(LogData{Host: "files.offspot", URI: "/", Method: "GET", Status: 200, Ts: testTs})
	require.Equal(t, []inputs.Input{
		inputs.PackageRequest{Ts: testTs, Title: "File Manager"},
	}, ins)
}
