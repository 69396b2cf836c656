package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/banshee-data/canopy.report/internal/fsutil"
	"github.com/banshee-data/canopy.report/internal/plots"
	"github.com/banshee-data/canopy.report/internal/procerr"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPDownloader fetches {BaseURL}/{plotId}/{date}.tif into Dir, laid out
// the way DirDownloader reads it. Rasters already in Dir are not fetched
// again.
type HTTPDownloader struct {
	BaseURL string
	Dir     string
	Client  Doer
	FS      fsutil.FileSystem
}

// URL returns the address of the raster for (plotID, date).
func (d HTTPDownloader) URL(plotID, date string) (string, error) {
	return url.JoinPath(d.BaseURL, plotID, date+".tif")
}

func (d HTTPDownloader) Download(ctx context.Context, plot plots.Plot, date string) (string, error) {
	fsys := d.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	local := DirDownloader{Root: d.Dir, FS: fsys}
	dest := local.Candidates(plot.ID, date)[0]
	if fsys.Exists(dest) {
		return dest, nil
	}

	fail := func(err error) (string, error) {
		return "", procerr.WithUnit(procerr.Wrap(procerr.KindDownload, "download", err), plot.ID, date)
	}
	src, err := d.URL(plot.ID, date)
	if err != nil {
		return fail(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fail(err)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fail(fmt.Errorf("%w at %s", ErrNotAvailable, src))
	case resp.StatusCode != http.StatusOK:
		return fail(fmt.Errorf("GET %s: %s", src, resp.Status))
	}

	if err := fsys.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fail(err)
	}
	if err := save(fsys, dest, resp.Body); err != nil {
		fsys.Remove(dest)
		return fail(fmt.Errorf("GET %s: %w", src, err))
	}
	return dest, nil
}

func save(fsys fsutil.FileSystem, path string, r io.Reader) error {
	f, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
