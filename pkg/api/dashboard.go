package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/tasks"
	"github.com/kaspa-aio/controller/pkg/types"
	"github.com/kaspa-aio/controller/pkg/update"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"services": s.deps.Monitor.Observations(),
	})
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.deps.Sampler.Latest()
	if !ok {
		writeError(w, errdefs.New(errdefs.KindNotFound, "no resource sample taken yet"))
		return
	}
	n := queryInt(r, "history", 0)
	body := map[string]any{"current": latest}
	if n > 0 {
		body["history"] = s.deps.Sampler.History(n)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) serviceParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Catalog.GetService(id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Server) handleServiceStart(w http.ResponseWriter, r *http.Request) {
	id, err := s.serviceParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Monitor.StartServices(r.Context(), []string{id}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "serviceId": id})
}

func (s *Server) handleServiceStop(w http.ResponseWriter, r *http.Request) {
	id, err := s.serviceParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Monitor.StopServices(r.Context(), []string{id}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "serviceId": id})
}

func (s *Server) handleServiceRestart(w http.ResponseWriter, r *http.Request) {
	id, err := s.serviceParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Monitor.RestartServices(r.Context(), []string{id}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "serviceId": id})
}

func (s *Server) handleServiceLogs(w http.ResponseWriter, r *http.Request) {
	id, err := s.serviceParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tail := queryInt(r, "tail", 100)
	follow := r.URL.Query().Get("follow") == "true"

	stream, err := s.deps.Adapter.Logs(r.Context(), id, tail, follow)
	if err != nil {
		writeError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if follow && flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debug().Err(err).Str("service_id", id).Msg("log stream ended")
			}
			return
		}
	}
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	env, err := s.deps.Store.LoadEnv()
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := s.deps.Store.LoadInstallationState()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"config":         env.Masked(),
		"activeProfiles": state.ActiveProfiles,
	})
}

func (s *Server) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config       map[string]string `json:"config"`
		CreateBackup bool              `json:"createBackup"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.deps.Pipeline.Reconfigure(r.Context(), update.ReconfigureRequest{
		EnvChanges:   req.Config,
		CreateBackup: req.CreateBackup,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

// latestKnown maps every catalog service to its shipped image tag; the
// compiled-in catalog is the source of what "latest" means for this release.
func (s *Server) latestKnown() map[string]string {
	out := make(map[string]string)
	for _, def := range s.deps.Catalog.ListServices() {
		if def.ImageRef != "" {
			out[def.ID] = def.ImageTag()
		}
	}
	return out
}

func (s *Server) availableUpdates() []update.Available {
	avail := s.deps.Pipeline.CheckAvailable(s.latestKnown())

	s.skipMu.Lock()
	defer s.skipMu.Unlock()
	out := avail[:0]
	for _, a := range avail {
		if s.skipped[a.ServiceID] == a.LatestVersion {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (s *Server) handleUpdatesAvailable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"updates": s.availableUpdates(),
	})
}

func (s *Server) handleUpdatesApply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates              []update.Item `json:"updates"`
		CreateBackup         bool          `json:"createBackup"`
		BreakingAcknowledged bool          `json:"breakingAcknowledged"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.deps.Pipeline.Run(r.Context(), req.Updates, update.Options{
		CreateBackup:         req.CreateBackup,
		BreakingAcknowledged: req.BreakingAcknowledged,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (s *Server) handleUpdatesApplyAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CreateBackup         bool `json:"createBackup"`
		BreakingAcknowledged bool `json:"breakingAcknowledged"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	avail := s.availableUpdates()
	if len(avail) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": nil})
		return
	}
	items := make([]update.Item, len(avail))
	for i, a := range avail {
		items[i] = update.Item{ServiceID: a.ServiceID, TargetVersion: a.LatestVersion}
	}
	result, err := s.deps.Pipeline.Run(r.Context(), items, update.Options{
		CreateBackup:         req.CreateBackup,
		BreakingAcknowledged: req.BreakingAcknowledged,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (s *Server) handleUpdatesSkip(w http.ResponseWriter, r *http.Request) {
	id, err := s.serviceParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Version string `json:"version"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Version == "" {
		writeError(w, errdefs.New(errdefs.KindValidation, "version to skip is required"))
		return
	}

	s.skipMu.Lock()
	s.skipped[id] = req.Version
	s.skipMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "serviceId": id, "skipped": req.Version})
}

func (s *Server) handleAlertsList(w http.ResponseWriter, r *http.Request) {
	history, err := s.deps.Alerts.History(queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"open":    s.deps.Alerts.Open(),
		"history": history,
	})
}

func (s *Server) handleAlertAck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Alerts.Acknowledge(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "alertId": id})
}

func (s *Server) handleTasksList(w http.ResponseWriter, r *http.Request) {
	filter := tasks.Filter{
		Kind:      types.TaskKind(r.URL.Query().Get("kind")),
		ServiceID: r.URL.Query().Get("serviceId"),
		Status:    types.TaskStatus(r.URL.Query().Get("status")),
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": s.deps.Tasks.List(filter),
	})
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Tasks.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "taskId": id})
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context5s(r)
	defer cancel()
	status, err := s.deps.Sync.Probe(ctx)
	if err != nil {
		// Serve the last derived status when the node is briefly unreachable.
		if last, ok := s.deps.Sync.Status(); ok {
			writeJSON(w, http.StatusOK, map[string]any{"sync": last, "stale": true})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sync": status})
}

// handleNodeRPC forwards a JSON-RPC body verbatim to the configured node, so
// wallet and explorer frontends never need direct node connectivity.
func (s *Server) handleNodeRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, errdefs.Wrap(err, errdefs.KindValidation, "cannot read request body"))
		return
	}

	url := fmt.Sprintf("http://%s:%d", s.deps.Config.KaspaNodeHost, s.deps.Config.KaspaNodePort)
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		writeError(w, errdefs.Wrap(err, errdefs.KindInternal, "cannot build node request"))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rpcProxyClient.Do(req)
	if err != nil {
		writeError(w, errdefs.Wrap(err, errdefs.KindRPCError, "node RPC unreachable"))
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

var rpcProxyClient = &http.Client{Timeout: 10 * time.Second}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	// A nil allowlist falls through to the monitor's default.
	stopped := s.deps.Monitor.EmergencyStop(r.Context(), s.deps.Config.EmergencyAllow)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stopped": stopped})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
