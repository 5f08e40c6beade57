package generator

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/wlu03/story-to-scene-magic-08/service/retry"
)

// maxArtifactBytes caps a single download.
const maxArtifactBytes = 512 << 20

// Fetch makes sure the artifact carries bytes, downloading URL artifacts.
// HTTP failures are classified for the retry policy.
func Fetch(ctx context.Context, client *http.Client, a Artifact) (Artifact, error) {
	if len(a.Data) > 0 {
		if a.ContentType == "" {
			a.ContentType = http.DetectContentType(a.Data)
		}
		return a, nil
	}
	if a.URL == "" {
		return a, retry.Permanent(fmt.Errorf("%s artifact has neither data nor url", a.Kind))
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return a, retry.Permanent(fmt.Errorf("build download request: %w", err))
	}
	resp, err := client.Do(req)
	if err != nil {
		return a, retry.Transient(fmt.Errorf("download %s: %w", a.Kind, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return a, fmt.Errorf("download %s: %w", a.Kind, retry.FromResponse(resp))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return a, retry.Transient(fmt.Errorf("read %s download: %w", a.Kind, err))
	}
	if len(data) > maxArtifactBytes {
		return a, retry.Permanent(fmt.Errorf("%s download exceeds %d bytes", a.Kind, maxArtifactBytes))
	}
	if len(data) == 0 {
		return a, retry.Transient(fmt.Errorf("%s download was empty", a.Kind))
	}

	a.Data = data
	a.ContentType = contentType(resp.Header.Get("Content-Type"), a.URL, data)
	return a, nil
}

func contentType(header, rawURL string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
		return mt
	}
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	if byExt := mime.TypeByExtension(path.Ext(rawURL)); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	return http.DetectContentType(data)
}
