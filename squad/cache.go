package squad

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

// DefaultDirCreationPerm is used when creating cache directories.
const DefaultDirCreationPerm = os.FileMode(0755)

// Downloader fetches dataset files into a local cache directory. Downloads
// are serialized across processes with a lock file next to the target, write
// to a temporary file and atomically rename on success, so a cached file is
// always complete. Requests are rate-limited to stay polite to the host.
type Downloader struct {
	cacheDir string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewDownloader creates a Downloader caching into cacheDir.
func NewDownloader(cacheDir string) *Downloader {
	return &Downloader{
		cacheDir: cacheDir,
		client:   &http.Client{},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

// Fetch returns the local path of the file at fileURL, downloading it into
// the cache first if needed. A file already present in the cache is assumed
// complete (downloads are atomic) and returned immediately.
func (d *Downloader) Fetch(ctx context.Context, fileURL string) (string, error) {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid dataset URL %q", fileURL)
	}
	localPath := filepath.Join(d.cacheDir, path.Base(parsed.Path))
	if fileExists(localPath) {
		klog.V(1).Infof("Using cached %s", localPath)
		return localPath, nil
	}
	if err := os.MkdirAll(d.cacheDir, DefaultDirCreationPerm); err != nil {
		return "", errors.Wrapf(err, "failed to create cache directory %q", d.cacheDir)
	}

	lockPath := localPath + ".lock"
	var mainErr error
	errLock := execOnFileLock(ctx, lockPath, func() {
		if fileExists(localPath) {
			// Some concurrent process downloaded the file while we waited.
			return
		}
		mainErr = d.download(ctx, fileURL, localPath)
		if mainErr == nil {
			if err := os.Remove(lockPath); err != nil {
				klog.Warningf("Failed to remove lock file %q: %v", lockPath, err)
			}
		}
	})
	if mainErr != nil {
		return "", mainErr
	}
	if errLock != nil {
		return "", errors.WithMessagef(errLock, "while locking %q to download %q", lockPath, fileURL)
	}
	return localPath, nil
}

// download writes fileURL to localPath+".downloading" and renames on success.
func (d *Downloader) download(ctx context.Context, fileURL, localPath string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to build request for %q", fileURL)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to download %q", fileURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("downloading %q: unexpected status %s", fileURL, resp.Status)
	}

	tmpPath := localPath + ".downloading"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary download file %q", tmpPath)
	}
	n, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "failed while downloading %q to %q", fileURL, tmpPath)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to close temporary download file %q", tmpPath)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to move downloaded file %q to %q", tmpPath, localPath)
	}
	klog.V(1).Infof("Downloaded %s (%d bytes) to %s", fileURL, n, localPath)
	return nil
}

// execOnFileLock locks lockPath (creating it if needed) and runs fn while
// holding the lock, polling with a randomized 1-2s period while another
// process holds it. The lock file is left behind; fn may remove it when no
// further callers for the same path are expected.
func execOnFileLock(ctx context.Context, lockPath string, fn func()) (err error) {
	fileLock := flock.New(lockPath)
	for {
		locked, err := fileLock.TryLock()
		if err != nil {
			return errors.Wrapf(err, "while trying to lock %q", lockPath)
		}
		if locked {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond * time.Duration(1000+rand.Intn(1000))):
		}
	}
	defer func() {
		if unlockErr := fileLock.Unlock(); unlockErr != nil {
			if err == nil {
				err = errors.Wrapf(unlockErr, "unlocking file %q", lockPath)
			} else {
				klog.Errorf("Error unlocking file %q: %v", lockPath, unlockErr)
			}
		}
	}()

	fn()
	return
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
