package router

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/otusfleet/fleetctl/internal/agent/fs"
	"github.com/otusfleet/fleetctl/internal/agent/task"
)

type fakeBus struct{}

func (fakeBus) BroadcastMain(event interface{})  {}
func (fakeBus) BroadcastStats(event interface{}) {}

type fakeSystem struct{}

func (fakeSystem) Info() (interface{}, error)              { return map[string]string{"os": "test"}, nil }
func (fakeSystem) NetworkInterfaces() (interface{}, error) { return []interface{}{}, nil }
func (fakeSystem) Reboot() error                           { return nil }
func (fakeSystem) Shutdown() error                         { return nil }

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(ioutil.Discard)
	return logrus.NewEntry(log)
}

func newTestServer(t *testing.T) (*Server, string, *fs.Store) {
	t.Helper()
	store, err := fs.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	tasks := task.NewManager(fakeBus{}, testLogger())
	t.Cleanup(tasks.Shutdown)

	srv := NewServer(Deps{
		Tasks:              tasks,
		Files:              store,
		Hostname:           "test-host",
		AutoInstallEnabled: true,
		System:             fakeSystem{},
	}, testLogger())

	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(srv.Stop)

	return srv, srv.listener.Addr().String(), store
}

// doRequest dials addr, writes one line-framed request, and returns the
// decoded JSON envelope.
func doRequest(t *testing.T, addr, method, path string, body []byte) map[string]interface{} {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	fmt.Fprintf(conn, "%s %s\r\nContent-Length: %d\r\n\r\n%s", method, path, len(body), body)

	reader := bufio.NewReader(conn)
	// Skip the status line and headers.
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading response: %v", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}
	raw, err := ioutil.ReadAll(reader)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decoding response %q: %v", raw, err)
	}
	return decoded
}

func TestExecThenTasksThenLogs(t *testing.T) {
	_, addr, _ := newTestServer(t)

	execResp := doRequest(t, addr, "POST", "/exec", []byte(`{"cmd":"echo hello"}`))
	if execResp["success"] != true {
		t.Fatalf("exec failed: %+v", execResp)
	}
	taskID := execResp["task_id"]

	deadline := time.Now().Add(2 * time.Second)
	var logsResp map[string]interface{}
	for time.Now().Before(deadline) {
		logsResp = doRequest(t, addr, "GET", fmt.Sprintf("/logs?id=%v", taskID), nil)
		if logs, _ := logsResp["logs"].(string); logs != "" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if logs, _ := logsResp["logs"].(string); logs != "hello\n" {
		t.Errorf("expected logs %q, got %q", "hello\n", logs)
	}

	tasksResp := doRequest(t, addr, "GET", "/tasks", nil)
	if tasksResp["success"] != true {
		t.Fatalf("tasks failed: %+v", tasksResp)
	}
}

func TestKillUnknownTaskIsNotFound(t *testing.T) {
	_, addr, _ := newTestServer(t)

	resp := doRequest(t, addr, "POST", "/kill?id=999999", nil)
	if resp["success"] != false {
		t.Fatalf("expected failure, got %+v", resp)
	}
	errInfo, ok := resp["error"].(map[string]interface{})
	if !ok || errInfo["kind"] != "not_found" {
		t.Errorf("expected not_found error, got %+v", resp)
	}
}

func TestHostname(t *testing.T) {
	_, addr, _ := newTestServer(t)

	resp := doRequest(t, addr, "GET", "/hostname", nil)
	if resp["hostname"] != "test-host" {
		t.Errorf("expected hostname test-host, got %+v", resp)
	}
}

func TestFilesWriteReadDownloadRoundTrip(t *testing.T) {
	_, addr, _ := newTestServer(t)

	writeResp := doRequest(t, addr, "POST", "/files/write", []byte(`{"filename":"note.txt","content":"hi there"}`))
	if writeResp["success"] != true {
		t.Fatalf("write failed: %+v", writeResp)
	}

	readResp := doRequest(t, addr, "GET", "/files/read?name=note.txt", nil)
	if readResp["content"] != "hi there" {
		t.Errorf("expected content %q, got %+v", "hi there", readResp)
	}

	downloadResp := doRequest(t, addr, "GET", "/files/download?name=note.txt", nil)
	encoded, _ := downloadResp["content"].(string)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decoding base64: %v", err)
	}
	if string(decoded) != "hi there" {
		t.Errorf("expected decoded content %q, got %q", "hi there", decoded)
	}
}

func TestFilesReadRejectsPathTraversal(t *testing.T) {
	_, addr, store := newTestServer(t)

	resp := doRequest(t, addr, "GET", "/files/read?name=../../etc/passwd", nil)
	if resp["success"] != false {
		t.Fatalf("expected traversal to be rejected, got %+v", resp)
	}
	errInfo, ok := resp["error"].(map[string]interface{})
	if !ok || errInfo["kind"] != "bad_request" {
		t.Errorf("expected bad_request error, got %+v", resp)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected the rejected read to leave the storage root empty, got %d entries", len(entries))
	}
}

func TestFilesUploadAutoInstallUnknownExtensionIsNotDispatched(t *testing.T) {
	_, addr, _ := newTestServer(t)

	content := base64.StdEncoding.EncodeToString([]byte("data"))
	resp := doRequest(t, addr, "POST", "/files/upload",
		[]byte(fmt.Sprintf(`{"filename":"archive.dat","content":%q,"auto_install":true}`, content)))
	if resp["success"] != true {
		t.Fatalf("upload failed: %+v", resp)
	}
	if resp["auto_install"] != false {
		t.Errorf("expected auto_install false for unrecognized extension, got %+v", resp)
	}
}

func TestFilesUploadAutoInstallShellScriptDispatchesTask(t *testing.T) {
	_, addr, _ := newTestServer(t)

	content := base64.StdEncoding.EncodeToString([]byte("#!/bin/sh\ntrue\n"))
	resp := doRequest(t, addr, "POST", "/files/upload",
		[]byte(fmt.Sprintf(`{"filename":"install.sh","content":%q,"auto_install":true}`, content)))
	if resp["success"] != true {
		t.Fatalf("upload failed: %+v", resp)
	}
	if resp["auto_install"] != true {
		t.Errorf("expected auto_install true for .sh, got %+v", resp)
	}
	if _, ok := resp["task_id"]; !ok {
		t.Errorf("expected a task_id for dispatched auto-install, got %+v", resp)
	}
}

func TestSystemInfoAndNetwork(t *testing.T) {
	_, addr, _ := newTestServer(t)

	infoResp := doRequest(t, addr, "GET", "/system/info", nil)
	if infoResp["success"] != true {
		t.Fatalf("system info failed: %+v", infoResp)
	}

	netResp := doRequest(t, addr, "GET", "/system/network", nil)
	if netResp["success"] != true {
		t.Fatalf("system network failed: %+v", netResp)
	}
}

func TestUnknownPathIsNotFound(t *testing.T) {
	_, addr, _ := newTestServer(t)

	resp := doRequest(t, addr, "GET", "/nope", nil)
	if resp["success"] != false {
		t.Fatalf("expected failure, got %+v", resp)
	}
}
