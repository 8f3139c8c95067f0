package fsserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	root := t.TempDir()

	srv, err := New([]string{root})
	require.NoError(t, err)

	return srv, root
}

func handle(t *testing.T, srv *Server, line string) gjson.Result {
	t.Helper()

	data, err := json.Marshal(srv.Handle(context.Background(), []byte(line)))
	require.NoError(t, err)

	return gjson.ParseBytes(data)
}

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestHandle_Ping(t *testing.T) {
	srv, _ := newTestServer(t)

	reply := handle(t, srv, `{"type":"request","id":"p","tool":"ping","params":{}}`)

	require.Equal(t, "response", reply.Get("type").String())
	require.Equal(t, "p", reply.Get("id").String())
	require.True(t, reply.Get("result.success").Bool())
}

func TestHandle_WriteThenRead(t *testing.T) {
	srv, root := newTestServer(t)

	reply := handle(t, srv, `{"type":"request","id":"1","tool":"write_file","params":{"path":"notes/a.txt","content":"hi"}}`)
	require.True(t, reply.Get("result.success").Bool(), reply.Raw)

	data, err := os.ReadFile(filepath.Join(root, "notes", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))

	reply = handle(t, srv, `{"type":"request","id":"2","tool":"read_file","path":"notes/a.txt"}`)
	require.Equal(t, "hi", reply.Get("result.content").String())
}

func TestHandle_ListDirectory(t *testing.T) {
	srv, root := newTestServer(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "a"), 0o755))

	reply := handle(t, srv, `{"type":"request","id":"1","tool":"list_directory","params":{}}`)

	var files []string
	require.NoError(t, json.Unmarshal([]byte(reply.Get("result.files").Raw), &files))
	require.Equal(t, []string{"a/", "b.txt"}, files)
}

func TestHandle_Errors(t *testing.T) {
	srv, root := newTestServer(t)

	outside := filepath.Join(filepath.Dir(root), "elsewhere.txt")

	tests := []struct {
		name    string
		line    string
		id      string
		message string
	}{
		{"unparsable", `{"type":"request",`, "", "invalid JSON"},
		{"unknown tool", `{"type":"request","id":"1","tool":"delete_everything","params":{}}`, "1", "unknown tool"},
		{"missing file", `{"type":"request","id":"2","tool":"read_file","params":{"path":"nope.txt"}}`, "2", "no such file"},
		{"escape relative", `{"type":"request","id":"3","tool":"read_file","params":{"path":"../x"}}`, "3", "access denied"},
		{"escape absolute", fmt.Sprintf(`{"type":"request","id":"4","tool":"write_file","params":{"path":%q,"content":"x"}}`, outside), "4", "access denied"},
		{"invalid params", `{"type":"request","id":"5","tool":"write_file","params":{"path":"a.txt"}}`, "5", "invalid params"},
		{"not a request", `{"type":"response","id":"6"}`, "6", "unexpected message type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := handle(t, srv, tt.line)

			require.Equal(t, "error", reply.Get("type").String())
			require.Equal(t, tt.id, reply.Get("id").String())
			require.Contains(t, reply.Get("error").String(), tt.message)
		})
	}

	_, err := os.Stat(outside)
	require.True(t, os.IsNotExist(err))
}

func TestHandle_SymlinkEscape(t *testing.T) {
	srv, root := newTestServer(t)

	secret := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(secret, "key"), []byte("s3cr3t"), 0o600))
	require.NoError(t, os.Symlink(secret, filepath.Join(root, "link")))

	reply := handle(t, srv, `{"type":"request","id":"1","tool":"read_file","params":{"path":"link/key"}}`)

	require.Equal(t, "error", reply.Get("type").String())
	require.Contains(t, reply.Get("error").String(), "access denied")
}

func TestHandle_SecondRoot(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	srv, err := New([]string{first, second})
	require.NoError(t, err)

	target := filepath.Join(second, "x.txt")
	line := fmt.Sprintf(`{"type":"request","id":"1","tool":"write_file","params":{"path":%q,"content":"ok"}}`, target)

	reply := handle(t, srv, line)
	require.True(t, reply.Get("result.success").Bool(), reply.Raw)
}

// TestServe_Stream tests the readiness line and concurrent replies over a pipe.
func TestServe_Stream(t *testing.T) {
	srv, _ := newTestServer(t)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(context.Background(), inR, outW)
		outW.Close()
	}()

	scanner := bufio.NewScanner(outR)

	require.True(t, scanner.Scan())
	require.Equal(t, DefaultReadinessLine, scanner.Text())

	const n = 10

	go func() {
		for i := range n {
			fmt.Fprintf(inW, `{"type":"request","id":"%d","tool":"ping","params":{}}`+"\n", i)
		}

		inW.Close()
	}()

	seen := map[string]bool{}

	for scanner.Scan() {
		reply := gjson.Parse(scanner.Text())
		require.Equal(t, "response", reply.Get("type").String())
		seen[reply.Get("id").String()] = true
	}

	require.Len(t, seen, n)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServe_NoReadinessLine(t *testing.T) {
	root := t.TempDir()

	srv, err := New([]string{root}, WithReadinessLine(""))
	require.NoError(t, err)

	var out strings.Builder

	err = srv.Serve(context.Background(), strings.NewReader(`{"type":"request","id":"1","tool":"ping"}`+"\n"), &out)
	require.NoError(t, err)

	require.Equal(t, `{"type":"response","id":"1","result":{"success":true}}`+"\n", out.String())
}
