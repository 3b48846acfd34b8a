package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kaspa-aio/controller/pkg/backup"
	"github.com/kaspa-aio/controller/pkg/depgraph"
	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/resources"
	"github.com/kaspa-aio/controller/pkg/tokens"
	"github.com/kaspa-aio/controller/pkg/types"
	"github.com/kaspa-aio/controller/pkg/update"
)

func (s *Server) handleWizardHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"version":   s.deps.Config.Version,
		"uptimeSec": int64(time.Since(s.startedAt).Seconds()),
	}
	ctx, cancel := context5s(r)
	defer cancel()
	if info, err := s.deps.Adapter.Info(ctx); err == nil {
		body["runtime"] = info
	} else {
		body["runtime"] = map[string]any{"running": false}
	}
	writeJSON(w, http.StatusOK, body)
}

// profileView is the wire shape of a catalog profile.
type profileView struct {
	ID             string                `json:"id"`
	DisplayName    string                `json:"displayName"`
	Category       types.ProfileCategory `json:"category"`
	Services       []string              `json:"services"`
	Prerequisites  []string              `json:"prerequisites,omitempty"`
	Conflicts      []string              `json:"conflicts,omitempty"`
	ConfigKeys     []string              `json:"configKeys,omitempty"`
	SharedServices []string              `json:"sharedServices,omitempty"`
	StartupOrder   int                   `json:"startupOrder"`
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	profiles := s.deps.Catalog.ListProfiles()
	out := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, profileView{
			ID:             p.ID,
			DisplayName:    p.DisplayName,
			Category:       p.Category,
			Services:       p.Services,
			Prerequisites:  p.Prerequisites,
			Conflicts:      p.Conflicts,
			ConfigKeys:     p.ConfigKeys,
			SharedServices: p.SharedServices,
			StartupOrder:   p.StartupOrder,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": out})
}

type selectionRequest struct {
	Profiles []string `json:"profiles"`
}

// hostResources measures the machine so the validator can warn about
// selections that will not fit.
func (s *Server) hostResources(r *http.Request) depgraph.HostResources {
	ctx, cancel := context5s(r)
	defer cancel()

	capacity := resources.HostCapacity(ctx, s.deps.Config.ProjectRoot)
	host := depgraph.HostResources{
		TotalRAMGb: capacity.TotalRAMGb,
		FreeDiskGb: capacity.FreeDiskGb,
	}
	if info, err := s.deps.Adapter.Info(ctx); err == nil {
		host.DockerMemoryLimitGb = info.MemoryLimitGb
	}
	return host
}

func (s *Server) handleValidateSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Profiles) == 0 {
		writeError(w, errdefs.New(errdefs.KindValidation, "no profiles selected"))
		return
	}
	result := depgraph.Validate(s.deps.Catalog, req.Profiles, s.hostResources(r))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCalculateCombined(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result := depgraph.Validate(s.deps.Catalog, req.Profiles, depgraph.HostResources{})
	writeJSON(w, http.StatusOK, map[string]any{
		"combined":     result.Combined,
		"startupOrder": result.StartupOrder,
	})
}

func (s *Server) handleCurrentConfig(w http.ResponseWriter, r *http.Request) {
	env, err := s.deps.Store.LoadEnv()
	if err != nil {
		writeError(w, err)
		return
	}
	install, err := s.deps.Store.LoadInstallationState()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"config":       env.Masked(),
		"installation": install,
	})
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profiles []string          `json:"profiles"`
		Config   map[string]string `json:"config,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	validation := depgraph.Validate(s.deps.Catalog, req.Profiles, s.hostResources(r))
	if !validation.Valid {
		writeError(w, errdefs.New(errdefs.KindValidation, "selection is invalid").
			WithDetails(map[string]any{"errors": validation.Errors}))
		return
	}

	if len(req.Config) > 0 {
		env, err := s.deps.Store.LoadEnv()
		if err != nil {
			writeError(w, err)
			return
		}
		for k, v := range req.Config {
			env.Set(k, v)
		}
		if err := s.deps.Store.SaveEnv(env); err != nil {
			writeError(w, err)
			return
		}
	}

	resolved := make([]string, len(req.Profiles))
	for i, id := range req.Profiles {
		resolved[i] = s.deps.Catalog.Resolve(id)
	}
	if err := s.deps.Adapter.Up(r.Context(), resolved); err != nil {
		writeError(w, err)
		return
	}

	if err := s.saveInstallState(resolved); err != nil {
		writeError(w, err)
		return
	}

	// A fresh node needs the chain; track its sync as a background task.
	// When a public fallback exists the task flips the endpoint back to the
	// local node on completion, in case the fallback gets engaged meanwhile.
	var taskIDs []string
	nodeKey := s.deps.Sync.NodeKey()
	if containsService(s.deps.Catalog.ListProfiles(), resolved, nodeKey) {
		autoSwitch, switchBack := s.fallbackSwitch()
		if id, err := s.deps.Tasks.StartNodeSync(s.deps.Sync, nodeKey, autoSwitch, switchBack); err == nil {
			taskIDs = append(taskIDs, id)
		} else {
			s.logger.Warn().Err(err).Msg("node sync task not started")
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"profiles":     resolved,
		"startupOrder": validation.StartupOrder,
		"taskIds":      taskIDs,
	})
}

func (s *Server) saveInstallState(activeProfiles []string) error {
	svcs, err := s.deps.Catalog.ServicesFor(activeProfiles)
	if err != nil {
		return err
	}
	state := types.InstallationState{
		Version:        s.deps.Config.Version,
		InstalledAt:    time.Now().UTC(),
		ActiveProfiles: activeProfiles,
	}
	for _, svc := range svcs {
		state.Services = append(state.Services, types.InstalledService{
			Name:    svc.ID,
			Version: svc.ImageTag(),
			Status:  "installed",
		})
	}
	return s.deps.Store.SaveInstallationState(state)
}

func containsService(profiles []*types.Profile, selected []string, serviceID string) bool {
	sel := make(map[string]bool, len(selected))
	for _, id := range selected {
		sel[id] = true
	}
	for _, p := range profiles {
		if !sel[p.ID] {
			continue
		}
		for _, sid := range p.Services {
			if sid == serviceID {
				return true
			}
		}
	}
	return false
}

func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config         map[string]string `json:"config,omitempty"`
		Profiles       []string          `json:"profiles,omitempty"`
		RemoveProfiles []string          `json:"removeProfiles,omitempty"`
		CreateBackup   bool              `json:"createBackup"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.deps.Pipeline.Reconfigure(r.Context(), update.ReconfigureRequest{
		EnvChanges:       req.Config,
		ActivateProfiles: req.Profiles,
		RemoveProfiles:   req.RemoveProfiles,
		CreateBackup:     req.CreateBackup,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if len(req.Profiles) > 0 || len(req.RemoveProfiles) > 0 {
		if err := s.refreshInstallProfiles(req.Profiles, req.RemoveProfiles); err != nil {
			s.logger.Warn().Err(err).Msg("installation state not updated")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"diff":             result.Diff,
		"affectedServices": result.AffectedServices,
		"backup":           result.SnapshotID,
	})
}

func (s *Server) refreshInstallProfiles(added, removed []string) error {
	state, err := s.deps.Store.LoadInstallationState()
	if err != nil {
		return err
	}
	active := make(map[string]bool)
	for _, id := range state.ActiveProfiles {
		active[id] = true
	}
	for _, id := range added {
		active[s.deps.Catalog.Resolve(id)] = true
	}
	for _, id := range removed {
		delete(active, s.deps.Catalog.Resolve(id))
	}
	var out []string
	for id := range active {
		out = append(out, id)
	}
	return s.saveInstallState(out)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BackupID                  string `json:"backupId"`
		CreateBackupBeforeRestore bool   `json:"createBackupBeforeRestore"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.BackupID == "" {
		writeError(w, errdefs.New(errdefs.KindValidation, "backupId is required"))
		return
	}
	if err := s.deps.Backups.Restore(req.BackupID, backup.RestoreOptions{
		CreateBackupBeforeRestore: req.CreateBackupBeforeRestore,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "restored": req.BackupID})
}

func (s *Server) handleBackupsList(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Backups.List(queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": list})
}

func (s *Server) handleBackupsCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}
	meta, err := s.deps.Backups.Create(req.Reason, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleBackupGet(w http.ResponseWriter, r *http.Request) {
	meta, err := s.deps.Backups.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleBackupDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Backups.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": id})
}

func (s *Server) handleBackupDiff(w http.ResponseWriter, r *http.Request) {
	diff, err := s.deps.Backups.Diff(chi.URLParam(r, "a"), chi.URLParam(r, "b"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"diff": diff})
}

func (s *Server) handleSyncStrategy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy types.SyncStrategy `json:"strategy"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	switch req.Strategy {
	case types.StrategyWait, types.StrategyBackground, types.StrategySkip:
	default:
		writeError(w, errdefs.New(errdefs.KindValidation, "unknown strategy %q", req.Strategy))
		return
	}

	if req.Strategy == types.StrategySkip && !s.deps.Fallback.Configured() {
		writeError(w, errdefs.New(errdefs.KindValidation,
			"skip requires a public node endpoint; set PUBLIC_NODE_URL"))
		return
	}

	s.deps.Sync.ChooseStrategy(req.Strategy)

	var taskID string
	fallbackEngaged := false
	switch req.Strategy {
	case types.StrategyBackground:
		autoSwitch, switchBack := s.fallbackSwitch()
		if autoSwitch {
			if err := s.deps.Fallback.Engage(r.Context()); err != nil {
				writeError(w, err)
				return
			}
			fallbackEngaged = true
		}
		id, err := s.deps.Tasks.StartNodeSync(s.deps.Sync, s.deps.Sync.NodeKey(), autoSwitch, switchBack)
		if err != nil {
			writeError(w, err)
			return
		}
		taskID = id
	case types.StrategySkip:
		// Permanent: no task, nothing flips the endpoint back.
		if err := s.deps.Fallback.Engage(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		fallbackEngaged = true
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"strategy": req.Strategy,
		"taskId":   taskID,
		"fallback": fallbackEngaged,
	})
}

// fallbackSwitch returns the autoSwitch flag and completion hook for a
// node-sync task. With a configured public fallback, task completion restores
// the local endpoint; Restore is harmless when the fallback never engaged.
func (s *Server) fallbackSwitch() (bool, func() error) {
	if !s.deps.Fallback.Configured() {
		return false, nil
	}
	fb := s.deps.Fallback
	return true, func() error { return fb.Restore(context.Background()) }
}

func (s *Server) handleWizardStateGet(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Store.LoadWizardState()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleWizardStateSet(w http.ResponseWriter, r *http.Request) {
	var state types.WizardState
	if err := decode(r, &state); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Store.SaveWizardState(state); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleWizardStateClear(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.ClearWizardState(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// tokenURL builds the handoff URL the other surface opens.
func (s *Server) tokenURL(mode types.TokenMode, id string) string {
	return fmt.Sprintf("http://localhost:%d/?mode=%s&token=%s",
		s.deps.Config.WizardPort, mode, url.QueryEscape(id))
}

func (s *Server) handleReconfigureLink(w http.ResponseWriter, r *http.Request) {
	install, err := s.deps.Store.LoadInstallationState()
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := s.deps.Tokens.Issue(tokens.Payload{
		Mode:     types.ModeReconfigure,
		Profiles: install.ActiveProfiles,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": id,
		"url":   s.tokenURL(types.ModeReconfigure, id),
	})
}

func (s *Server) handleUpdateLink(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("updates")
	if raw == "" {
		writeError(w, errdefs.New(errdefs.KindValidation, "updates query parameter is required"))
		return
	}

	// serviceId@version pairs, comma separated.
	extra := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		serviceID, version, ok := strings.Cut(pair, "@")
		if !ok || serviceID == "" || version == "" {
			writeError(w, errdefs.New(errdefs.KindValidation, "malformed update entry %q", pair))
			return
		}
		if _, err := s.deps.Catalog.GetService(serviceID); err != nil {
			writeError(w, err)
			return
		}
		extra[serviceID] = version
	}

	id, err := s.deps.Tokens.Issue(tokens.Payload{Mode: types.ModeUpdate, Extra: extra})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": id,
		"url":   s.tokenURL(types.ModeUpdate, id),
	})
}

func (s *Server) handleTokenData(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("token")
	if id == "" {
		writeError(w, errdefs.New(errdefs.KindValidation, "token query parameter is required"))
		return
	}
	payload, err := s.deps.Tokens.Consume(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleTokenDelete(w http.ResponseWriter, r *http.Request) {
	s.deps.Tokens.Invalidate(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
