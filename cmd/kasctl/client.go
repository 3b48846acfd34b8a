package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaspa-aio/controller/pkg/types"
)

var controllerAddr string

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, startCmd, stopCmd, restartCmd, logsCmd, reconfigureCmd} {
		cmd.PersistentFlags().StringVar(&controllerAddr, "addr",
			"http://localhost:8080", "Address of the running controller")
	}
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

// call performs one API request and decodes the response, converting
// {success:false, kind, message} bodies into errors.
func call(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, controllerAddr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("controller not reachable at %s: %w", controllerAddr, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var failure struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &failure) == nil && failure.Message != "" {
			return fmt.Errorf("%s: %s", failure.Kind, failure.Message)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every fleet service",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body struct {
			Services []types.ServiceObservation `json:"services"`
		}
		if err := call(http.MethodGet, "/api/status", nil, &body); err != nil {
			return err
		}

		fmt.Printf("%-24s %-10s %-10s %-10s %s\n", "SERVICE", "STATE", "HEALTH", "UPTIME", "VERSION")
		for _, obs := range body.Services {
			uptime := "-"
			if obs.UptimeSec > 0 {
				uptime = (time.Duration(obs.UptimeSec) * time.Second).String()
			}
			version := obs.Version
			if version == "" {
				version = "-"
			}
			fmt.Printf("%-24s %-10s %-10s %-10s %s\n",
				obs.ServiceID, obs.State, obs.Health, uptime, version)
		}
		return nil
	},
}

func serviceActionCmd(verb, past string) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s SERVICE [SERVICE...]", verb),
		Short: fmt.Sprintf("%s services in dependency order", strings.ToUpper(verb[:1])+verb[1:]),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usagef("at least one service is required")
			}
			for _, id := range args {
				if err := call(http.MethodPost, "/api/services/"+id+"/"+verb, nil, nil); err != nil {
					return err
				}
				fmt.Printf("✓ %s %s\n", past, id)
			}
			return nil
		},
	}
}

var (
	startCmd   = serviceActionCmd("start", "started")
	stopCmd    = serviceActionCmd("stop", "stopped")
	restartCmd = serviceActionCmd("restart", "restarted")
)

var logsCmd = &cobra.Command{
	Use:   "logs SERVICE",
	Short: "Print a service's container logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tail, _ := cmd.Flags().GetInt("tail")
		follow, _ := cmd.Flags().GetBool("follow")

		url := fmt.Sprintf("%s/api/services/%s/logs?tail=%d&follow=%t",
			controllerAddr, args[0], tail, follow)
		resp, err := httpClient.Get(url)
		if err != nil {
			return fmt.Errorf("controller not reachable at %s: %w", controllerAddr, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("log request failed: %s", strings.TrimSpace(string(data)))
		}
		_, err = io.Copy(os.Stdout, resp.Body)
		return err
	},
}

var reconfigureCmd = &cobra.Command{
	Use:   "reconfigure --set KEY=VALUE [--set KEY=VALUE...]",
	Short: "Change configuration and restart the affected services",
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringArray("set")
		withBackup, _ := cmd.Flags().GetBool("backup")
		if len(pairs) == 0 {
			return usagef("at least one --set KEY=VALUE is required")
		}

		changes := make(map[string]string, len(pairs))
		for _, pair := range pairs {
			key, value, ok := strings.Cut(pair, "=")
			if !ok || key == "" {
				return usagef("malformed --set %q, expected KEY=VALUE", pair)
			}
			changes[key] = value
		}

		var body struct {
			Result struct {
				AffectedServices []string         `json:"affectedServices"`
				Diff             types.ConfigDiff `json:"diff"`
			} `json:"result"`
		}
		err := call(http.MethodPost, "/api/config", map[string]any{
			"config":       changes,
			"createBackup": withBackup,
		}, &body)
		if err != nil {
			return err
		}

		for _, change := range body.Result.Diff.Changes {
			fmt.Printf("  %s %s\n", change.Kind, change.Key)
		}
		if len(body.Result.AffectedServices) > 0 {
			fmt.Printf("✓ restarted %s\n", strings.Join(body.Result.AffectedServices, ", "))
		} else {
			fmt.Println("✓ configuration updated, no services affected")
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().Int("tail", 100, "Number of log lines to fetch")
	logsCmd.Flags().BoolP("follow", "f", false, "Stream logs until interrupted")

	reconfigureCmd.Flags().StringArray("set", nil, "Configuration change as KEY=VALUE")
	reconfigureCmd.Flags().Bool("backup", false, "Snapshot configuration before applying")
}
