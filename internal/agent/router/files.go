package router

import (
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/otusfleet/fleetctl/internal/apperr"
	"github.com/otusfleet/fleetctl/internal/protocol"
)

func (s *Server) handleFilesList(req *protocol.Request) (interface{}, error) {
	entries, err := s.deps.Files.List()
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Server) handleFilesRead(req *protocol.Request) (interface{}, error) {
	name, ok := req.Query["name"]
	if !ok || name == "" {
		return nil, apperr.BadRequestf("missing query parameter %q", "name")
	}
	content, err := s.deps.Files.Read(name)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"content": string(content)}, nil
}

type filesWriteRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func (s *Server) handleFilesWrite(req *protocol.Request) (interface{}, error) {
	var body filesWriteRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, apperr.BadRequestf("invalid write body: %v", err)
	}
	if err := s.deps.Files.Write(body.Filename, []byte(body.Content)); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true}, nil
}

type filesUploadRequest struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"` // base64
	AutoInstall bool   `json:"auto_install,omitempty"`
}

// handleFilesUpload decodes the base64 payload, writes it under the storage
// root, and — when requested and enabled — dispatches the matching
// auto-install action as a new task, looked up from a closed extension
// table.
func (s *Server) handleFilesUpload(req *protocol.Request) (interface{}, error) {
	var body filesUploadRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, apperr.BadRequestf("invalid upload body: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		return nil, apperr.BadRequestf("invalid base64 content: %v", err)
	}
	if err := s.deps.Files.Write(body.Filename, raw); err != nil {
		return nil, err
	}

	if !body.AutoInstall || !s.deps.AutoInstallEnabled {
		return map[string]interface{}{"success": true, "auto_install": false}, nil
	}

	action, ok := autoInstallCommand(body.Filename)
	if !ok {
		return map[string]interface{}{"success": true, "auto_install": false}, nil
	}
	path, err := s.deps.Files.Path(body.Filename)
	if err != nil {
		return nil, err
	}
	id := s.deps.Tasks.Submit(action(path))
	return map[string]interface{}{"success": true, "auto_install": true, "task_id": id}, nil
}

func (s *Server) handleFilesDownload(req *protocol.Request) (interface{}, error) {
	name, ok := req.Query["name"]
	if !ok || name == "" {
		return nil, apperr.BadRequestf("missing query parameter %q", "name")
	}
	content, err := s.deps.Files.Read(name)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"content": base64.StdEncoding.EncodeToString(content)}, nil
}

type filesNameRequest struct {
	Filename string `json:"filename"`
}

func (s *Server) handleFilesDelete(req *protocol.Request) (interface{}, error) {
	var body filesNameRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, apperr.BadRequestf("invalid delete body: %v", err)
	}
	if err := s.deps.Files.Delete(body.Filename); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true}, nil
}

type filesRenameRequest struct {
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

func (s *Server) handleFilesRename(req *protocol.Request) (interface{}, error) {
	var body filesRenameRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, apperr.BadRequestf("invalid rename body: %v", err)
	}
	if err := s.deps.Files.Rename(body.OldName, body.NewName); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true}, nil
}

// autoInstallCommand returns the shell command that carries out the action
// for filename's extension, against a closed dispatch table. The
// second return value is false for any extension outside that set.
func autoInstallCommand(filename string) (func(path string) string, bool) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".deb"):
		return func(p string) string { return "dpkg -i " + shellQuote(p) }, true
	case strings.HasSuffix(lower, ".rpm"):
		return func(p string) string { return "rpm -i " + shellQuote(p) }, true
	case strings.HasSuffix(lower, ".appimage"):
		return func(p string) string { return "chmod +x " + shellQuote(p) }, true
	case strings.HasSuffix(lower, ".sh"):
		return func(p string) string { return "chmod +x " + shellQuote(p) + " && " + shellQuote(p) }, true
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return func(p string) string { return "tar -xzf " + shellQuote(p) + " -C " + shellQuote(filepath.Dir(p)) }, true
	case strings.HasSuffix(lower, ".zip"):
		return func(p string) string { return "unzip -o " + shellQuote(p) + " -d " + shellQuote(filepath.Dir(p)) }, true
	case strings.HasSuffix(lower, ".py"):
		return func(p string) string { return "pip install " + shellQuote(p) }, true
	default:
		return nil, false
	}
}
