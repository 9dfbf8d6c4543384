package integration

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"Tally/client"
)

// safeBuffer wraps bytes.Buffer with a mutex for concurrent read/write.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends data to the buffer (implements io.Writer).
func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.Write(p)
}

// String returns the buffer contents as a string.
func (sb *safeBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.String()
}

// Node represents a running Tally node process.
type Node struct {
	cmd      *exec.Cmd     // cmd is the running process
	httpAddr string        // httpAddr is the HTTP API address
	feedAddr string        // feedAddr is the QUIC feed address
	dataDir  string        // dataDir is the node's data directory
	stdout   *safeBuffer   // stdout captures process output
	stderr   *safeBuffer   // stderr captures process errors
	done     chan struct{} // done is closed when the process exits
}

// nodeOpts holds optional node flags.
type nodeOpts struct {
	restore string // restore is a snapshot path passed to -restore
}

// NodeOption configures a node.
type NodeOption func(*nodeOpts)

// WithRestore restores the node from a snapshot file at startup.
func WithRestore(path string) NodeOption { return func(o *nodeOpts) { o.restore = path } }

// startNode launches the node binary with a fresh data directory under testDir.
func startNode(t *testing.T, binary, testDir, name string, options ...NodeOption) *Node {
	t.Helper()

	opts := &nodeOpts{}
	for _, o := range options {
		o(opts)
	}

	node := &Node{
		httpAddr: freeTCPAddr(t),
		feedAddr: freeUDPAddr(t),
		dataDir:  filepath.Join(testDir, name),
		stdout:   &safeBuffer{},
		stderr:   &safeBuffer{},
		done:     make(chan struct{}),
	}

	if err := os.MkdirAll(node.dataDir, 0755); err != nil {
		t.Fatalf("create node dir %s: %v", name, err)
	}

	args := []string{
		"-data", node.dataDir,
		"-http", node.httpAddr,
		"-feed", node.feedAddr,
		"-key", filepath.Join(node.dataDir, "key"),
		"-log-level", "debug",
	}

	if opts.restore != "" {
		args = append(args, "-restore", opts.restore)
	}

	node.cmd = exec.Command(binary, args...)
	node.cmd.Stdout = node.stdout
	node.cmd.Stderr = node.stderr

	if err := node.cmd.Start(); err != nil {
		t.Fatalf("start node %s: %v", name, err)
	}

	// Wait in background so ProcessState gets set when the process exits.
	go func() {
		node.cmd.Wait()
		close(node.done)
	}()

	t.Cleanup(func() {
		node.Kill()
		if t.Failed() {
			t.Logf("node %s stdout:\n%s\nstderr:\n%s", name, node.stdout.String(), node.stderr.String())
		}
	})

	node.waitHealthy(t, 15*time.Second)

	return node
}

// HTTPAddr returns the node's HTTP address.
func (n *Node) HTTPAddr() string { return n.httpAddr }

// FeedAddr returns the node's QUIC feed address.
func (n *Node) FeedAddr() string { return n.feedAddr }

// SnapshotPath returns where the node writes its shutdown snapshot.
func (n *Node) SnapshotPath() string { return filepath.Join(n.dataDir, "snapshot.zst") }

// LogContains checks if the node's logs contain a substring.
func (n *Node) LogContains(s string) bool {
	return strings.Contains(n.stdout.String(), s)
}

// Client returns an HTTP client connected to the node.
func (n *Node) Client(t *testing.T) *client.Client {
	t.Helper()

	c, err := client.NewClient(n.httpAddr)
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}

	return c
}

// Shutdown sends SIGTERM and waits for a graceful exit.
func (n *Node) Shutdown(t *testing.T) {
	t.Helper()

	if err := n.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal node: %v", err)
	}

	select {
	case <-n.done:
	case <-time.After(15 * time.Second):
		t.Fatal("node did not exit after SIGTERM")
	}

	if code := n.cmd.ProcessState.ExitCode(); code != 0 {
		t.Fatalf("node exited with code %d: %s", code, n.stderr.String())
	}
}

// Kill terminates the node process if it is still running.
func (n *Node) Kill() {
	select {
	case <-n.done:
		return
	default:
	}

	n.cmd.Process.Kill()
	<-n.done
}

// waitHealthy polls GET /health until it answers or the timeout passes.
func (n *Node) waitHealthy(t *testing.T, timeout time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	url := "http://" + n.httpAddr + "/health"

	for ctx.Err() == nil {
		select {
		case <-n.done:
			t.Fatalf("node exited during startup: %s", n.stderr.String())
		default:
		}

		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}

		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("node at %s not healthy after %s", n.httpAddr, timeout)
}

// freeTCPAddr returns a loopback TCP address that was free a moment ago.
func freeTCPAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve tcp port: %v", err)
	}
	defer l.Close()

	return l.Addr().String()
}

// freeUDPAddr returns a loopback UDP address that was free a moment ago.
func freeUDPAddr(t *testing.T) string {
	t.Helper()

	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve udp port: %v", err)
	}
	defer c.Close()

	return c.LocalAddr().String()
}

// buildBinary compiles the node binary.
// Uses a unique temp file per test to avoid races when running tests in parallel.
func buildBinary(t *testing.T) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "tally_test_*")
	if err != nil {
		t.Fatalf("create temp binary file: %v", err)
	}

	binary := tmpFile.Name()
	tmpFile.Close()

	cmd := exec.Command("go", "build", "-o", binary, "./cmd/node")
	cmd.Dir = getProjectRoot(t)

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}

	t.Cleanup(func() { os.Remove(binary) })

	return binary
}

// getProjectRoot returns the project root directory (containing go.mod).
func getProjectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("get working dir: %v", err)
	}

	dir := wd
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		dir = filepath.Dir(dir)
	}

	t.Fatalf("could not find project root from %s", wd)

	return ""
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", what)
}

// describe formats a poll tally for failure messages.
func describe(options []string, votes []uint64) string {
	parts := make([]string, len(options))
	for i := range options {
		parts[i] = fmt.Sprintf("%s=%d", options[i], votes[i])
	}

	return strings.Join(parts, " ")
}
