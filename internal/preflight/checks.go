package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"conduit/internal/config"
	"conduit/internal/ports"
)

const checkTimeout = 3 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckManager dials the manager's control address.
func CheckManager(ctx context.Context, addr string) Result {
	const name = "Manager"
	if addr == "" {
		return Result{Name: name, Detail: "no manager address configured"}
	}
	dialer := net.Dialer{Timeout: checkTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return Result{Name: name, Detail: fmt.Sprintf("%s refused the connection (not running?)", addr)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%v)", addr, err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s accepting connections", addr)}
}

// CheckHealth queries the manager's /healthz endpoint.
func CheckHealth(ctx context.Context, bind string) Result {
	const name = "Manager HTTP"
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, "http://"+bind+"/healthz", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%d)", resp.StatusCode)}
	}
	var body struct {
		Components int `json:"components"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreadable health response (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("healthy, %d components", body.Components)}
}

// CheckFeederPorts verifies that the worker's feeder ports can be listened on.
func CheckFeederPorts(w config.Worker) Result {
	const name = "Feeder ports"
	available, err := w.Ports()
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	probe := ports.ListenProbe("")
	var busy []int
	for _, port := range available {
		if !probe(port) {
			busy = append(busy, port)
		}
	}
	if len(busy) > 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%d of %d in use: %v", len(busy), len(available), busy)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d free", len(available))}
}

// CheckJobBinary verifies that the binary workers spawn jobs with is
// executable. An empty path means the running executable.
func CheckJobBinary(path string) Result {
	const name = "Job binary"
	if path == "" {
		self, err := os.Executable()
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("resolve executable: %v", err)}
		}
		path = self
	}
	if err := unix.Access(path, unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not executable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}
