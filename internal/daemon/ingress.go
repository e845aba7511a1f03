package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/bellmanlabs/bellman/internal/model"
)

// scanIngress enqueues every command file already sitting in ingress/.
func (d *Daemon) scanIngress() {
	ingressDir := filepath.Join(d.dataDir, "ingress")
	entries, err := os.ReadDir(ingressDir)
	if err != nil {
		d.log(model.LogLevelError, "scan ingress: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		d.handleIngressFile(filepath.Join(ingressDir, entry.Name()))
	}
}

// handleIngressFile reads one dropped command file, enqueues it, and removes
// the file. Unparseable files are quarantined by rename so they stop
// retriggering the watcher.
func (d *Daemon) handleIngressFile(path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Often a race with our own remove after processing.
		d.log(model.LogLevelDebug, "read ingress file %s: %v", path, err)
		return
	}

	var cmd model.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		d.rejectIngressFile(path, "unparseable command: "+err.Error())
		return
	}
	if cmd.ExecutionID == "" || cmd.CommandType == "" {
		d.rejectIngressFile(path, "missing execution_id or command_type")
		return
	}

	if err := d.queue.Enqueue(cmd); err != nil {
		d.log(model.LogLevelError, "enqueue %s: %v", cmd.ExecutionID, err)
		return
	}
	if err := os.Remove(path); err != nil {
		d.log(model.LogLevelWarn, "remove ingress file %s: %v", path, err)
	}
	d.log(model.LogLevelInfo, "enqueued %s (%s) from ingress", cmd.ExecutionID, cmd.CommandType)
}

func (d *Daemon) rejectIngressFile(path, reason string) {
	rejected := path + ".rejected"
	if err := os.Rename(path, rejected); err != nil {
		d.log(model.LogLevelError, "reject ingress file %s: %v", path, err)
		return
	}
	d.log(model.LogLevelWarn, "rejected ingress file %s: %s", rejected, reason)
}
