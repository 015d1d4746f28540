package gateway

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxBrowseEntries caps a single file listing response.
const maxBrowseEntries = 50

type fileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// handleBrowseFiles lists a directory inside the workspace. Hidden entries
// are filtered before the entry cap is applied, so a directory full of
// dotfiles cannot crowd visible files out of the first page.
func (s *Server) handleBrowseFiles(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	dir, err := s.resolveWorkspacePath(rel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "path %q not found", rel)
			return
		}
		writeError(w, http.StatusInternalServerError, "read dir: %v", err)
		return
	}

	visible := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		var size int64
		if err == nil && !e.IsDir() {
			size = info.Size()
		}
		visible = append(visible, fileEntry{
			Name:  e.Name(),
			Path:  filepath.Join(rel, e.Name()),
			IsDir: e.IsDir(),
			Size:  size,
		})
	}

	sort.Slice(visible, func(i, j int) bool {
		if visible[i].IsDir != visible[j].IsDir {
			return visible[i].IsDir
		}
		return visible[i].Name < visible[j].Name
	})

	truncated := false
	if len(visible) > maxBrowseEntries {
		visible = visible[:maxBrowseEntries]
		truncated = true
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"path":      rel,
		"entries":   visible,
		"count":     len(visible),
		"truncated": truncated,
	})
}

// resolveWorkspacePath joins rel onto the workspace root and rejects
// anything that escapes it.
func (s *Server) resolveWorkspacePath(rel string) (string, error) {
	cleaned := filepath.Clean("/" + rel)
	full := filepath.Join(s.workspaceDir, cleaned)

	root := filepath.Clean(s.workspaceDir)
	if full != root && !strings.HasPrefix(full, root+string(os.PathSeparator)) {
		return "", errPathEscape
	}
	return full, nil
}

var errPathEscape = pathError("path escapes the workspace")

type pathError string

func (e pathError) Error() string { return string(e) }
